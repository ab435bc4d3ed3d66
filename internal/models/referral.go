package models

import "time"

// Referral фиксирует однократное начисление реферального бонуса паре
// (пригласивший, приглашённый). Ключ записи детерминированный:
// "<referrer>_<referred>", само существование записи — защита от повторного
// начисления. Запись создаётся в одной транзакции с обоими зачислениями и
// никогда не обновляется.
type Referral struct {
	ID            string // referrerID + "_" + referredID
	ReferrerID    string
	ReferredID    string
	ReferrerBonus float64
	ReferredBonus float64
	CreatedAt     time.Time
}

// ReferralID собирает детерминированный ключ реферальной записи.
func ReferralID(referrerID, referredID string) string {
	return referrerID + "_" + referredID
}
