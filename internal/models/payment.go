package models

import "time"

// Статусы платежа. Платёж создаётся в статусе pending и ровно один раз
// переходит в терминальный статус; после этого запись неизменна.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"
)

// Типы платежа: покупка тарифа или пополнение баланса.
const (
	PaymentTypeTariff  = "tariff"
	PaymentTypeBalance = "balance"
)

// Способы оплаты.
const (
	PaymentMethodGateway = "yookassa"
	PaymentMethodBalance = "balance"
)

// Payment представляет локальную запись о платеже. ID генерируется локально
// и служит ключом идемпотентности при обращении к платёжному шлюзу.
// GatewayID присваивается шлюзом и до этого пуст.
type Payment struct {
	ID            string // Локальный ключ идемпотентности (uuid)
	UserID        string
	Amount        float64
	TariffID      string // Пусто для пополнения баланса
	PaymentType   string // tariff | balance
	Status        string // pending | succeeded | canceled
	PaymentMethod string // yookassa | balance
	GatewayID     string // Идентификатор платежа на стороне шлюза
	SelectedNode  string // Узел, выбранный при покупке тарифа
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
}

// Terminal сообщает, достиг ли платёж терминального статуса.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusCanceled
}

// TopUpRequest используется для приёма данных из JSON-запроса /add-balance.
type TopUpRequest struct {
	UserID        string  `json:"user_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
}

// ActivateTariffRequest используется для приёма данных из JSON-запроса
// /activate-tariff.
type ActivateTariffRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	Tariff        string `json:"tariff" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required"`
	SelectedNode  string `json:"selected_node"`
}

// PurchaseResult возвращается операциями покупки/пополнения: либо платёж
// завершён сразу (оплата с баланса), либо пользователя нужно отправить по
// ссылке подтверждения шлюза.
type PurchaseResult struct {
	PaymentID       string  `json:"payment_id"`
	Status          string  `json:"status"`
	Amount          float64 `json:"amount"`
	Days            int     `json:"days,omitempty"`
	SelectedNode    string  `json:"selected_node,omitempty"`
	ConfirmationURL string  `json:"confirmation_url,omitempty"`
}
