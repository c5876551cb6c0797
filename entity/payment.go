package entity

import (
	"github.com/shopspring/decimal"
)

// Payment is a checkout link issued for an approved purchase.
type Payment struct {
	Id            string          `json:"id"`
	TransactionId string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Link          string          `json:"link,omitempty"`
}
