package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is the read-model row of a live ticket.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID    uint64     `bun:"ticket_id,pk" json:"ticket_id"`
	EventID     uint64     `bun:"event_id,notnull" json:"event_id"`
	Owner       string     `bun:"owner,notnull" json:"owner"`
	MetadataURI string     `bun:"metadata_uri" json:"metadata_uri,omitempty"`
	Scanned     bool       `bun:"scanned,notnull" json:"scanned"`
	ScannedBy   string     `bun:"scanned_by,nullzero" json:"scanned_by,omitempty"`
	ScannedAt   *time.Time `bun:"scanned_at" json:"scanned_at,omitempty"`
	MintedAt    time.Time  `bun:"minted_at,notnull" json:"minted_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Listing is an open resale offer.
type Listing struct {
	bun.BaseModel `bun:"table:listings"`

	TicketID uint64    `bun:"ticket_id,pk" json:"ticket_id"`
	EventID  uint64    `bun:"event_id,notnull" json:"event_id"`
	Seller   string    `bun:"seller,notnull" json:"seller"`
	Price    string    `bun:"price,notnull" json:"price"`
	ListedAt time.Time `bun:"listed_at,notnull" json:"listed_at"`
}

// Sale is a settled resale. Amounts are decimal strings of the native unit.
type Sale struct {
	bun.BaseModel `bun:"table:sales"`

	Seq              int64     `bun:"seq,pk" json:"seq"`
	TicketID         uint64    `bun:"ticket_id,notnull" json:"ticket_id"`
	EventID          uint64    `bun:"event_id,notnull" json:"event_id"`
	Seller           string    `bun:"seller,notnull" json:"seller"`
	Buyer            string    `bun:"buyer,notnull" json:"buyer"`
	Price            string    `bun:"price,notnull" json:"price"`
	Royalty          string    `bun:"royalty,notnull" json:"royalty"`
	RoyaltyRecipient string    `bun:"royalty_recipient,notnull" json:"royalty_recipient"`
	SoldAt           time.Time `bun:"sold_at,notnull" json:"sold_at"`
}

// Balance is the persisted native balance of an account.
type Balance struct {
	bun.BaseModel `bun:"table:balances"`

	Account   string    `bun:"account,pk" json:"account"`
	Amount    string    `bun:"amount,notnull" json:"amount"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}
