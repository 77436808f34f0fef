package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxRequestsPerSource bounds how many notification requests a single source
// key may create over the lifetime of the auction, fulfilled or not.
const MaxRequestsPerSource = 3

// NotificationRequest is a "notify me when the price reaches X" registration.
// The contact address is stored envelope-encrypted; SourceHash is a stable
// keyed hash of the requester's network origin, never the raw address.
type NotificationRequest struct {
	ID               uuid.UUID `json:"id" db:"id"`
	AuctionID        string    `json:"auction_id" db:"auction_id"`
	ContactEncrypted string    `json:"-" db:"contact_encrypted"`
	ContactDEK       string    `json:"-" db:"contact_dek"`
	ContactKeyID     string    `json:"-" db:"contact_key_id"`
	TargetPrice      int64     `json:"target_price" db:"target_price"` // whole dollars
	SourceHash       string    `json:"-" db:"source_hash"`
	Fulfilled        bool      `json:"fulfilled" db:"fulfilled"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
