package models

import "time"

// AccessGrant — локальное зеркало состояния пользователя на конкретном узле
// доступа. Узлы рассылаются best-effort, поэтому зеркало может временно
// расходиться с фактическим состоянием узла; источником истины оно не
// является и для решений о списаниях не читается.
type AccessGrant struct {
	UserID         string
	NodeID         string
	AccessIdentity string
	IsActive       bool
	Config         string // JSON с клиентской конфигурацией подключения
	UpdatedAt      time.Time
}
