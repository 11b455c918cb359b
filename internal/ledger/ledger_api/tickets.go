package ledger_api

import (
	"fmt"
	"net/http"
	"time"

	"ticket-ledger/internal/models"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.MintRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid mint request", err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		h.fail(w, r, "Invalid mint request", err)
		return
	}
	start := time.Now()
	id, err := h.Service.Mint(r.Context(), caller, to, req.EventID, req.MetadataURI)
	if err != nil {
		h.fail(w, r, "Mint rejected", err)
		return
	}
	h.Logger.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("201 ticket %d", id), elapsed(start))
	h.ok(w, r, http.StatusCreated, "Ticket minted", models.MintResponse{TicketID: id})
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	t, listing, err := h.Service.Ticket(id)
	if err != nil {
		h.fail(w, r, "Ticket not found", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Ticket", ticketInfo(t, listing))
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	var req models.TransferRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid transfer request", err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		h.fail(w, r, "Invalid transfer request", err)
		return
	}
	if err := h.Service.Transfer(r.Context(), caller, id, to); err != nil {
		h.fail(w, r, "Transfer rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Ticket transferred", nil)
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	if err := h.Service.Scan(r.Context(), caller, id); err != nil {
		h.fail(w, r, "Scan rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Ticket scanned", nil)
}

// ScanPass admits a ticket by its QR gate pass.
// Expected POST request body: {"pass": "<sealed pass>"}
func (h *Handler) ScanPass(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.ScanPassRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "Invalid scan request", err)
		return
	}
	if req.Pass == "" {
		h.fail(w, r, "Invalid scan request", badRequest("pass is required"))
		return
	}
	id, err := h.Service.ScanPass(r.Context(), caller, req.Pass)
	if err != nil {
		h.fail(w, r, "Scan rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Ticket scanned", models.MintResponse{TicketID: id})
}

// Pass returns a fresh QR gate pass as a PNG for the ticket owner.
func (h *Handler) Pass(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	png, err := h.Service.Pass(caller, id)
	if err != nil {
		h.fail(w, r, "Pass unavailable", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) Burn(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := parseUint(r, "ticketId")
	if err != nil {
		h.fail(w, r, "Invalid ticket id", err)
		return
	}
	if err := h.Service.Burn(r.Context(), caller, id); err != nil {
		h.fail(w, r, "Burn rejected", err)
		return
	}
	h.ok(w, r, http.StatusOK, "Ticket burned", nil)
}

func (h *Handler) AccountTickets(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "account"), "account")
	if err != nil {
		h.fail(w, r, "Invalid account", err)
		return
	}
	tickets := h.Service.TicketsOf(owner)
	out := make([]models.TicketInfo, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketInfo(t, nil))
	}
	h.ok(w, r, http.StatusOK, "Tickets held", out)
}
