// Package nodeclient реализует клиента админ-API узлов доступа. Каждый узел
// настроен независимо (базовый адрес + ключ), вызовы ограничены коротким
// таймаутом; ошибки одного узла никогда не затрагивают остальные.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NikitaNevsky/vacvpn/internal/config"
)

// Client выполняет вызовы админ-API узлов доступа.
type Client struct {
	nodes      map[string]config.AccessNode
	httpClient *http.Client
}

// New создаёт клиента по списку узлов из конфигурации.
func New(nodes []config.AccessNode, timeout time.Duration) *Client {
	byID := make(map[string]config.AccessNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return &Client{
		nodes:      byID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, node config.AccessNode, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, node.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", node.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) node(nodeID string) (config.AccessNode, error) {
	node, ok := c.nodes[nodeID]
	if !ok {
		return config.AccessNode{}, fmt.Errorf("unknown node: %s", nodeID)
	}
	return node, nil
}

// AddUser добавляет идентичность в allow-list узла.
func (c *Client) AddUser(ctx context.Context, nodeID, accessIdentity string) error {
	const op = "nodeclient.AddUser"

	node, err := c.node(nodeID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, node, http.MethodPost, "/user", map[string]string{
		"uuid": accessIdentity,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s: unexpected status %s from node %s", op, resp.Status, nodeID)
	}
	return nil
}

// RemoveUser удаляет идентичность из allow-list узла. Отсутствие
// идентичности на узле не считается ошибкой.
func (c *Client) RemoveUser(ctx context.Context, nodeID, accessIdentity string) error {
	const op = "nodeclient.RemoveUser"

	node, err := c.node(nodeID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, node, http.MethodDelete, "/user/"+accessIdentity, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%s: unexpected status %s from node %s", op, resp.Status, nodeID)
	}
	return nil
}

// CheckUser проверяет, известна ли идентичность узлу.
func (c *Client) CheckUser(ctx context.Context, nodeID, accessIdentity string) (bool, error) {
	const op = "nodeclient.CheckUser"

	node, err := c.node(nodeID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, node, http.MethodGet, "/user/"+accessIdentity, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s: unexpected status %s from node %s", op, resp.Status, nodeID)
	}

	var payload struct {
		Exists bool `json:"exists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return payload.Exists, nil
}

// Health проверяет живость узла.
func (c *Client) Health(ctx context.Context, nodeID string) error {
	const op = "nodeclient.Health"

	node, err := c.node(nodeID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, node, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s from node %s", op, resp.Status, nodeID)
	}
	return nil
}
