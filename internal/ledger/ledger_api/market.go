package ledger_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	var req models.ListRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid listing request", err)
		return
	}
	price, err := parseAmount(req.Price, "price")
	if err != nil {
		h.fail(w, r, "Invalid listing request", err)
		return
	}
	if err := h.Service.List(r.Context(), caller, id, price); err != nil {
		h.fail(w, r, "Listing rejected", err)
		return
	}
	h.ok(w, r, http.StatusCreated, "Ticket listed", models.ListingInfo{Seller: caller.Hex(), Price: price.Dec()})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	if err := h.Service.Cancel(r.Context(), caller, id); err != nil {
		h.fail(w, r, "Cancel rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Listing cancelled", nil)
}

// Buy settles a listing. Any payment above the price is refunded.
// Expected POST request body: {"payment": "<decimal amount>"}
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	var req models.BuyRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid purchase request", err)
		return
	}
	payment, err := parseAmount(req.Payment, "payment")
	if err != nil {
		h.fail(w, r, "Invalid purchase request", err)
		return
	}
	start := time.Now()
	sale, err := h.Service.Buy(r.Context(), caller, id, payment)
	if err != nil {
		h.fail(w, r, "Purchase rejected", err)
		return
	}
	h.Logger.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("200 ticket %d sold for %s", id, sale.Price.Dec()), elapsed(start))
	h.ok(w, r, http.StatusOK, "Ticket purchased", models.SaleReceipt{
		TicketID: sale.TicketID,
		Seller:   sale.Seller.Hex(),
		Buyer:    sale.Buyer.Hex(),
		Price:    sale.Price.Dec(),
		Royalty:  sale.Royalty.Dec(),
		Payout:   sale.Payout.Dec(),
		Refund:   sale.Refund.Dec(),
	})
}

func (h *Handler) EventListings(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseUint(r, "eventId")
	if err != nil {
		h.fail(w, r, "Invalid event id", err)
		return
	}
	listings, err := h.ReadModel.GetListings(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "Failed to load listings", err)
		return
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	h.ok(w, r, http.StatusOK, "Active listings", listings)
}

func (h *Handler) EventSales(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseUint(r, "eventId")
	if err != nil {
		h.fail(w, r, "Invalid event id", err)
		return
	}
	sales, err := h.ReadModel.GetSales(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "Failed to load sales", err)
		return
	}
	if sales == nil {
		sales = []models.Sale{}
	}
	h.ok(w, r, http.StatusOK, "Resales", sales)
}

func (h *Handler) GetRoyalty(w http.ResponseWriter, r *http.Request) {
	cfg, ceiling := h.Service.Royalty()
	h.ok(w, r, http.StatusOK, "Royalty configuration", models.RoyaltyResponse{
		Recipient: cfg.Recipient.Hex(),
		Rate:      cfg.Rate,
		Ceiling:   ceiling,
	})
}

func (h *Handler) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.RoyaltyRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid royalty request", err)
		return
	}
	recipient, err := parseAddress(req.Recipient, "recipient")
	if err != nil {
		h.fail(w, r, "Invalid royalty request", err)
		return
	}
	if err := h.Service.SetRoyalty(r.Context(), caller, recipient, req.Rate); err != nil {
		h.fail(w, r, "Royalty update rejected", err)
		return
	}
	h.GetRoyalty(w, r)
}

func (h *Handler) RoleMembers(w http.ResponseWriter, r *http.Request) {
	role, err := ledger.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, r, "Unknown role", err)
		return
	}
	members := h.Service.RoleMembers(role)
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Hex())
	}
	h.ok(w, r, http.StatusOK, "Role members", models.RoleMembersResponse{Role: role.String(), Members: out})
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, "Role granted", h.Service.Grant)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, "Role revoked", h.Service.Revoke)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request, message string,
	apply func(ctx context.Context, caller common.Address, role ledger.Role, account common.Address) error) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	role, err := ledger.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, r, "Unknown role", err)
		return
	}
	account, err := parseAddress(chi.URLParam(r, "account"), "account")
	if err != nil {
		h.fail(w, r, "Invalid account", err)
		return
	}
	if err := apply(r.Context(), caller, role, account); err != nil {
		h.fail(w, r, "Role change rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, message, nil)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "account"), "account")
	if err != nil {
		h.fail(w, r, "Invalid account", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Balance", models.BalanceResponse{
		Account: account.Hex(),
		Amount:  h.Service.BalanceOf(account).Dec(),
	})
}

// Deposit credits value to an account. Administrators only.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	account, err := parseAddress(chi.URLParam(r, "account"), "account")
	if err != nil {
		h.fail(w, r, "Invalid account", err)
		return
	}
	var req models.DepositRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid deposit request", err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		h.fail(w, r, "Invalid deposit request", err)
		return
	}
	balance, err := h.Service.Deposit(r.Context(), caller, account, amount)
	if err != nil {
		h.fail(w, r, "Deposit rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Deposit credited", models.BalanceResponse{Account: account.Hex(), Amount: balance.Dec()})
}
