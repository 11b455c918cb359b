package models

type MintRequest struct {
	To          string `json:"to"`
	EventID     uint64 `json:"event_id"`
	MetadataURI string `json:"metadata_uri"`
}

type MintResponse struct {
	TicketID uint64 `json:"ticket_id"`
}

type TransferRequest struct {
	To string `json:"to"`
}

// ListRequest carries the asking price as a decimal string.
type ListRequest struct {
	Price string `json:"price"`
}

type BuyRequest struct {
	Payment string `json:"payment"`
}

type RoyaltyRequest struct {
	Recipient string `json:"recipient"`
	Rate      uint16 `json:"rate"`
}

type RoyaltyResponse struct {
	Recipient string `json:"recipient"`
	Rate      uint16 `json:"rate"`
	Ceiling   uint16 `json:"ceiling"`
}

type ScanPassRequest struct {
	Pass string `json:"pass"`
}

type DepositRequest struct {
	Amount string `json:"amount"`
}

type ListingInfo struct {
	Seller string `json:"seller"`
	Price  string `json:"price"`
}

type TicketInfo struct {
	TicketID    uint64       `json:"ticket_id"`
	EventID     uint64       `json:"event_id"`
	Owner       string       `json:"owner"`
	MetadataURI string       `json:"metadata_uri,omitempty"`
	Scanned     bool         `json:"scanned"`
	Listing     *ListingInfo `json:"listing,omitempty"`
}

type SaleReceipt struct {
	TicketID uint64 `json:"ticket_id"`
	Seller   string `json:"seller"`
	Buyer    string `json:"buyer"`
	Price    string `json:"price"`
	Royalty  string `json:"royalty"`
	Payout   string `json:"payout"`
	Refund   string `json:"refund"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type RoleMembersResponse struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// EventStats aggregates resale and entry activity for one concert event.
type EventStats struct {
	EventID      uint64 `json:"event_id"`
	Minted       int    `json:"minted"`
	Scanned      int    `json:"scanned"`
	ActiveListed int    `json:"active_listings"`
	Sales        int    `json:"sales"`
	Volume       string `json:"volume"`
	Royalties    string `json:"royalties"`
	FloorPrice   string `json:"floor_price,omitempty"`
}
