package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LedgerEvent is one committed entry of the append-only ledger log.
type LedgerEvent struct {
	bun.BaseModel `bun:"table:ledger_events"`

	Seq        int64             `bun:"seq,pk" json:"seq"`
	Type       string            `bun:"type,notnull" json:"type"`
	TicketID   uint64            `bun:"ticket_id" json:"ticket_id,omitempty"`
	EventID    uint64            `bun:"event_id" json:"event_id,omitempty"`
	Attributes map[string]string `bun:"attributes,type:jsonb" json:"attributes"`
	CreatedAt  time.Time         `bun:"created_at,notnull" json:"created_at"`
}

// ProjectionCursor records the last log sequence applied to a read model.
type ProjectionCursor struct {
	bun.BaseModel `bun:"table:projection_cursors"`

	Name      string    `bun:"name,pk"`
	Seq       int64     `bun:"seq,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
