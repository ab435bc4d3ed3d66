package models

import "time"

// Действия рассылки на узлы доступа.
const (
	ProvisionActionGrant  = "grant"
	ProvisionActionRevoke = "revoke"
)

// ProvisionJob — запись устойчивого outbox рассылки. Строка создаётся в
// момент выдачи/отзыва подписки и выгребается воркером с ограниченным числом
// повторов, чтобы перезапуск процесса не терял незавершённую рассылку.
type ProvisionJob struct {
	ID             int64
	AccessIdentity string
	UserID         string
	NodeID         string
	Action         string // grant | revoke
	Attempts       int
	NextAttemptAt  time.Time
	Done           bool
	CreatedAt      time.Time
}
