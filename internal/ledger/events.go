package ledger

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeTicketMinted      = "ticket.minted"
	TypeTicketTransferred = "ticket.transferred"
	TypeTicketScanned     = "ticket.scanned"
	TypeTicketBurned      = "ticket.burned"
	TypeTicketListed      = "ticket.listed"
	TypeListingCancelled  = "listing.cancelled"
	TypeTicketSold        = "ticket.sold"
	TypeRoleGranted       = "role.granted"
	TypeRoleRevoked       = "role.revoked"
	TypeRoyaltyUpdated    = "royalty.updated"
)

// Event is a structured state change released when a call commits.
type Event interface {
	EventType() string
	Record() Record
}

// Record is the wire form of an event: a type and flat string attributes.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter receives committed events.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

type TicketMinted struct {
	TicketID    uint64
	Owner       common.Address
	EventID     uint64
	MetadataURI string
}

func (TicketMinted) EventType() string { return TypeTicketMinted }

func (e TicketMinted) Record() Record {
	return Record{Type: TypeTicketMinted, Attributes: map[string]string{
		"ticket_id":    formatID(e.TicketID),
		"owner":        e.Owner.Hex(),
		"event_id":     formatID(e.EventID),
		"metadata_uri": e.MetadataURI,
	}}
}

type TicketTransferred struct {
	TicketID uint64
	EventID  uint64
	From     common.Address
	To       common.Address
}

func (TicketTransferred) EventType() string { return TypeTicketTransferred }

func (e TicketTransferred) Record() Record {
	return Record{Type: TypeTicketTransferred, Attributes: map[string]string{
		"ticket_id": formatID(e.TicketID),
		"event_id":  formatID(e.EventID),
		"from":      e.From.Hex(),
		"to":        e.To.Hex(),
	}}
}

type TicketScanned struct {
	TicketID uint64
	EventID  uint64
	Scanner  common.Address
}

func (TicketScanned) EventType() string { return TypeTicketScanned }

func (e TicketScanned) Record() Record {
	return Record{Type: TypeTicketScanned, Attributes: map[string]string{
		"ticket_id": formatID(e.TicketID),
		"event_id":  formatID(e.EventID),
		"scanner":   e.Scanner.Hex(),
	}}
}

type TicketBurned struct {
	TicketID uint64
	EventID  uint64
	Owner    common.Address
}

func (TicketBurned) EventType() string { return TypeTicketBurned }

func (e TicketBurned) Record() Record {
	return Record{Type: TypeTicketBurned, Attributes: map[string]string{
		"ticket_id": formatID(e.TicketID),
		"event_id":  formatID(e.EventID),
		"owner":     e.Owner.Hex(),
	}}
}

type TicketListed struct {
	TicketID uint64
	EventID  uint64
	Seller   common.Address
	Price    *uint256.Int
}

func (TicketListed) EventType() string { return TypeTicketListed }

func (e TicketListed) Record() Record {
	return Record{Type: TypeTicketListed, Attributes: map[string]string{
		"ticket_id": formatID(e.TicketID),
		"event_id":  formatID(e.EventID),
		"seller":    e.Seller.Hex(),
		"price":     formatAmount(e.Price),
	}}
}

type ListingCancelled struct {
	TicketID    uint64
	EventID     uint64
	CancelledBy common.Address
}

func (ListingCancelled) EventType() string { return TypeListingCancelled }

func (e ListingCancelled) Record() Record {
	return Record{Type: TypeListingCancelled, Attributes: map[string]string{
		"ticket_id":    formatID(e.TicketID),
		"event_id":     formatID(e.EventID),
		"cancelled_by": e.CancelledBy.Hex(),
	}}
}

type TicketSold struct {
	TicketID         uint64
	EventID          uint64
	Seller           common.Address
	Buyer            common.Address
	Price            *uint256.Int
	Royalty          *uint256.Int
	RoyaltyRecipient common.Address
}

func (TicketSold) EventType() string { return TypeTicketSold }

func (e TicketSold) Record() Record {
	return Record{Type: TypeTicketSold, Attributes: map[string]string{
		"ticket_id":         formatID(e.TicketID),
		"event_id":          formatID(e.EventID),
		"seller":            e.Seller.Hex(),
		"buyer":             e.Buyer.Hex(),
		"price":             formatAmount(e.Price),
		"royalty":           formatAmount(e.Royalty),
		"royalty_recipient": e.RoyaltyRecipient.Hex(),
	}}
}

type RoleGranted struct {
	Role    Role
	Account common.Address
	Sender  common.Address
}

func (RoleGranted) EventType() string { return TypeRoleGranted }

func (e RoleGranted) Record() Record {
	return Record{Type: TypeRoleGranted, Attributes: map[string]string{
		"role":    e.Role.String(),
		"account": e.Account.Hex(),
		"sender":  e.Sender.Hex(),
	}}
}

type RoleRevoked struct {
	Role    Role
	Account common.Address
	Sender  common.Address
}

func (RoleRevoked) EventType() string { return TypeRoleRevoked }

func (e RoleRevoked) Record() Record {
	return Record{Type: TypeRoleRevoked, Attributes: map[string]string{
		"role":    e.Role.String(),
		"account": e.Account.Hex(),
		"sender":  e.Sender.Hex(),
	}}
}

type RoyaltyUpdated struct {
	Recipient common.Address
	Rate      uint16
}

func (RoyaltyUpdated) EventType() string { return TypeRoyaltyUpdated }

func (e RoyaltyUpdated) Record() Record {
	return Record{Type: TypeRoyaltyUpdated, Attributes: map[string]string{
		"recipient": e.Recipient.Hex(),
		"rate":      strconv.FormatUint(uint64(e.Rate), 10),
	}}
}

// TicketIDOf returns the ticket an event refers to, or 0 for events that are
// not about a single ticket.
func TicketIDOf(ev Event) uint64 {
	switch e := ev.(type) {
	case TicketMinted:
		return e.TicketID
	case TicketTransferred:
		return e.TicketID
	case TicketScanned:
		return e.TicketID
	case TicketBurned:
		return e.TicketID
	case TicketListed:
		return e.TicketID
	case ListingCancelled:
		return e.TicketID
	case TicketSold:
		return e.TicketID
	}
	return 0
}

// EventIDOf returns the concert event an event refers to, or 0.
func EventIDOf(ev Event) uint64 {
	switch e := ev.(type) {
	case TicketMinted:
		return e.EventID
	case TicketTransferred:
		return e.EventID
	case TicketScanned:
		return e.EventID
	case TicketBurned:
		return e.EventID
	case TicketListed:
		return e.EventID
	case ListingCancelled:
		return e.EventID
	case TicketSold:
		return e.EventID
	}
	return 0
}

// Decode turns a wire record back into its typed event.
func Decode(r Record) (Event, error) {
	d := decoder{attrs: r.Attributes}
	var ev Event
	switch r.Type {
	case TypeTicketMinted:
		ev = TicketMinted{TicketID: d.id("ticket_id"), Owner: d.addr("owner"), EventID: d.id("event_id"), MetadataURI: r.Attributes["metadata_uri"]}
	case TypeTicketTransferred:
		ev = TicketTransferred{TicketID: d.id("ticket_id"), EventID: d.id("event_id"), From: d.addr("from"), To: d.addr("to")}
	case TypeTicketScanned:
		ev = TicketScanned{TicketID: d.id("ticket_id"), EventID: d.id("event_id"), Scanner: d.addr("scanner")}
	case TypeTicketBurned:
		ev = TicketBurned{TicketID: d.id("ticket_id"), EventID: d.id("event_id"), Owner: d.addr("owner")}
	case TypeTicketListed:
		ev = TicketListed{TicketID: d.id("ticket_id"), EventID: d.id("event_id"), Seller: d.addr("seller"), Price: d.amount("price")}
	case TypeListingCancelled:
		ev = ListingCancelled{TicketID: d.id("ticket_id"), EventID: d.id("event_id"), CancelledBy: d.addr("cancelled_by")}
	case TypeTicketSold:
		ev = TicketSold{
			TicketID:         d.id("ticket_id"),
			EventID:          d.id("event_id"),
			Seller:           d.addr("seller"),
			Buyer:            d.addr("buyer"),
			Price:            d.amount("price"),
			Royalty:          d.amount("royalty"),
			RoyaltyRecipient: d.addr("royalty_recipient"),
		}
	case TypeRoleGranted:
		ev = RoleGranted{Role: d.role("role"), Account: d.addr("account"), Sender: d.addr("sender")}
	case TypeRoleRevoked:
		ev = RoleRevoked{Role: d.role("role"), Account: d.addr("account"), Sender: d.addr("sender")}
	case TypeRoyaltyUpdated:
		ev = RoyaltyUpdated{Recipient: d.addr("recipient"), Rate: uint16(d.uint("rate", 16))}
	default:
		return nil, fmt.Errorf("ledger: unknown event type %q", r.Type)
	}
	if d.err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", r.Type, d.err)
	}
	return ev, nil
}

type decoder struct {
	attrs map[string]string
	err   error
}

func (d *decoder) uint(key string, bits int) uint64 {
	if d.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(d.attrs[key], 10, bits)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}

func (d *decoder) id(key string) uint64 { return d.uint(key, 64) }

func (d *decoder) addr(key string) common.Address {
	if d.err != nil {
		return common.Address{}
	}
	raw := d.attrs[key]
	if !common.IsHexAddress(raw) {
		d.err = fmt.Errorf("%s: invalid address %q", key, raw)
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func (d *decoder) amount(key string) *uint256.Int {
	if d.err != nil {
		return nil
	}
	v, err := uint256.FromDecimal(d.attrs[key])
	if err != nil {
		d.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}

func (d *decoder) role(key string) Role {
	if d.err != nil {
		return 0
	}
	r, err := ParseRole(d.attrs[key])
	if err != nil {
		d.err = err
	}
	return r
}

func formatID(v uint64) string { return strconv.FormatUint(v, 10) }

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
