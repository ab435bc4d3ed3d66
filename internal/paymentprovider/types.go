package paymentprovider

import "time"

// Amount представляет денежную сумму.
type Amount struct {
	Value    string `json:"value"`    // сумма строкой, например "150.00"
	Currency string `json:"currency"` // валюта, например "RUB"
}

// Confirmation описывает способ подтверждения платежа пользователем.
type Confirmation struct {
	Type            string `json:"type"`                       // redirect
	ReturnURL       string `json:"return_url,omitempty"`       // куда вернуть после оплаты
	ConfirmationURL string `json:"confirmation_url,omitempty"` // ссылка для пользователя (в ответе)
}

// CreatePaymentRequest представляет запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // payment_id, user_id, payment_type и др.
}

// CreatePaymentResponse представляет ответ на создание платежа.
type CreatePaymentResponse struct {
	ID           string       `json:"id"`     // ID платежа в ЮKassa
	Status       string       `json:"status"` // статус платежа, например "pending"
	Amount       Amount       `json:"amount"`
	Confirmation Confirmation `json:"confirmation"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PaymentStatusResponse представляет ответ на запрос статуса платежа.
type PaymentStatusResponse struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"` // pending | succeeded | canceled | waiting_for_capture
	Amount   Amount            `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
