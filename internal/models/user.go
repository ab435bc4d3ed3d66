// Package models содержит доменные структуры: пользователя с балансом и
// подпиской, платежи, реферальные записи и зеркала выдач на узлах доступа.
// Структуры используются в бизнес‑логике и при работе с хранилищем.
package models

import "time"

// User представляет пользователя сервиса. Идентификатор назначается внешней
// системой (Telegram) и приходит готовой строкой. Баланс изменяется только
// через леджер, счётчик дней подписки — только через машину состояний
// подписки. AccessIdentity генерируется не более одного раза и после этого
// неизменен.
type User struct {
	ID                   string     // Внешний идентификатор пользователя
	Username             string     // Имя пользователя (опционально)
	FirstName            string     // Имя
	LastName             string     // Фамилия
	Balance              float64    // Текущий баланс, всегда >= 0
	HasSubscription      bool       // Признак активной подписки
	SubscriptionDays     int        // Остаток дней подписки, >= 0
	SubscriptionStart    *time.Time // Дата первой активации подписки
	SubscriptionEnd      *time.Time // Расчётная/фактическая дата окончания
	AccessIdentity       string     // UUID, предъявляемый узлам доступа; пустой до первой выдачи
	PreferredNode        string     // Предпочитаемый узел доступа
	LastEntitlementCheck *time.Time // Дата последнего списания дней (гранулярность — день)
	ReferredBy           string     // Идентификатор пригласившего, выставляется не более одного раза
	ReferralLink         string     // Реферальная ссылка пользователя
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Entitled сообщает, действует ли подписка прямо сейчас по локальным данным.
// Ленивое списание может ещё не примениться, поэтому значение уточняется
// только после Decay.
func (u *User) Entitled() bool {
	return u.HasSubscription && u.SubscriptionDays > 0
}

// EntitlementUpdate описывает атомарное изменение подписочного состояния
// пользователя; применяется одной командой внутри транзакции, в которой
// строка пользователя уже заблокирована.
type EntitlementUpdate struct {
	SubscriptionDays     int
	HasSubscription      bool
	SubscriptionStart    *time.Time
	SubscriptionEnd      *time.Time
	LastEntitlementCheck *time.Time
	AccessIdentity       string
}

// InitUserRequest используется для приёма данных из JSON-запроса /init-user.
type InitUserRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	StartParam string `json:"start_param"`
}
