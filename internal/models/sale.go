package models

import "time"

// SaleState is the singleton auction state row. Once Sold flips to true the
// record is terminal: SoldAt and SalePrice are set exactly once and never
// change again.
type SaleState struct {
	ID        int        `json:"id" db:"id"`
	Sold      bool       `json:"sold" db:"sold"`
	SoldAt    *time.Time `json:"sold_at" db:"sold_at"`
	SalePrice *int64     `json:"sale_price" db:"sale_price"` // cents, provider-captured amount
}
