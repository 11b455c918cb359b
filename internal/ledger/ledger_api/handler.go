package ledger_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/ledger/qr"
	"ticket-ledger/internal/ledger/service"
	"ticket-ledger/internal/logger"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
)

// LedgerService is the host executor as seen by the HTTP layer.
type LedgerService interface {
	Mint(ctx context.Context, caller, to common.Address, eventID uint64, metadataURI string) (uint64, error)
	Transfer(ctx context.Context, caller common.Address, ticketID uint64, to common.Address) error
	Scan(ctx context.Context, caller common.Address, ticketID uint64) error
	ScanPass(ctx context.Context, caller common.Address, token string) (uint64, error)
	Pass(caller common.Address, ticketID uint64) ([]byte, error)
	Burn(ctx context.Context, caller common.Address, ticketID uint64) error
	List(ctx context.Context, caller common.Address, ticketID uint64, price *uint256.Int) error
	Cancel(ctx context.Context, caller common.Address, ticketID uint64) error
	Buy(ctx context.Context, caller common.Address, ticketID uint64, payment *uint256.Int) (ledger.Sale, error)
	Grant(ctx context.Context, caller common.Address, role ledger.Role, account common.Address) error
	Revoke(ctx context.Context, caller common.Address, role ledger.Role, account common.Address) error
	SetRoyalty(ctx context.Context, caller, recipient common.Address, rate uint16) error
	Deposit(ctx context.Context, caller, account common.Address, amount *uint256.Int) (*uint256.Int, error)

	Ticket(ticketID uint64) (ledger.Ticket, *ledger.Listing, error)
	TicketsOf(owner common.Address) []ledger.Ticket
	Royalty() (ledger.RoyaltyConfig, uint16)
	RoleMembers(role ledger.Role) []common.Address
	BalanceOf(account common.Address) *uint256.Int
}

// ReadModel serves per-event views from the projected tables.
type ReadModel interface {
	GetListings(ctx context.Context, eventID uint64) ([]models.Listing, error)
	GetSales(ctx context.Context, eventID uint64) ([]models.Sale, error)
}

type Handler struct {
	Service   LedgerService
	ReadModel ReadModel
	// Stream serves GET /stream when set.
	Stream http.Handler
	Logger *logger.Logger
}

func NewHandler(svc LedgerService, readModel ReadModel, stream http.Handler, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{Service: svc, ReadModel: readModel, Stream: stream, Logger: log}
}

// RegisterRoutes registers the ledger routes on r. The caller mounts them
// under /api/ledger behind authentication.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", h.Mint)
		r.Post("/scan-pass", h.ScanPass)
		r.Route("/{ticketId}", func(r chi.Router) {
			r.Get("/", h.GetTicket)
			r.Delete("/", h.Burn)
			r.Post("/transfer", h.Transfer)
			r.Post("/scan", h.Scan)
			r.Get("/pass", h.Pass)
			r.Post("/listing", h.List)
			r.Delete("/listing", h.Cancel)
			r.Post("/buy", h.Buy)
		})
	})
	r.Route("/roles/{role}", func(r chi.Router) {
		r.Get("/", h.RoleMembers)
		r.Post("/{account}", h.Grant)
		r.Delete("/{account}", h.Revoke)
	})
	r.Get("/royalty", h.GetRoyalty)
	r.Put("/royalty", h.SetRoyalty)
	r.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/tickets", h.AccountTickets)
		r.Get("/balance", h.Balance)
		r.Post("/deposit", h.Deposit)
	})
	r.Get("/events/{eventId}/listings", h.EventListings)
	r.Get("/events/{eventId}/sales", h.EventSales)
	if h.Stream != nil {
		r.Get("/stream", h.Stream.ServeHTTP)
	}
}

// errBadRequest marks request parsing failures.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return errBadRequest{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps a failure to its HTTP status.
func statusFor(err error) int {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrTicketNotFound), errors.Is(err, ledger.ErrNoListing):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrZeroAccount), errors.Is(err, ledger.ErrZeroEventID),
		errors.Is(err, ledger.ErrInvalidPrice), errors.Is(err, ledger.ErrUnknownRole),
		errors.Is(err, ledger.ErrRateAboveCeiling):
		return http.StatusBadRequest
	case errors.Is(err, qr.ErrInvalidPass), errors.Is(err, qr.ErrExpiredPass):
		return http.StatusForbidden
	case errors.Is(err, service.ErrPassesDisabled):
		return http.StatusServiceUnavailable
	}
	switch ledger.KindOf(err) {
	case ledger.KindAuthorization:
		return http.StatusForbidden
	case ledger.KindPrecondition, ledger.KindReentrancy:
		return http.StatusConflict
	case ledger.KindValueTransfer:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	resp := utils.ErrorResponse(message, err.Error())
	if kind := ledger.KindOf(err); kind != ledger.KindUnknown {
		resp.Kind = kind.String()
	}
	utils.WriteJSON(w, r, status, resp)
}

func (h *Handler) ok(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	utils.WriteJSON(w, r, status, utils.SuccessResponse(message, data))
}

// caller returns the authenticated account or writes 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	account, ok := auth.Account(r.Context())
	if !ok {
		utils.WriteJSON(w, r, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", "no authenticated account"))
	}
	return account, ok
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func parseUint(r *http.Request, param string) (uint64, error) {
	raw := chi.URLParam(r, param)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s %q", param, raw)
	}
	return v, nil
}

func parseAddress(raw, field string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("invalid %s address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw, field string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, badRequest("invalid %s %q: %v", field, raw, err)
	}
	return v, nil
}

func ticketInfo(t ledger.Ticket, listing *ledger.Listing) models.TicketInfo {
	info := models.TicketInfo{
		TicketID:    t.ID,
		EventID:     t.EventID,
		Owner:       t.Owner.Hex(),
		MetadataURI: t.MetadataURI,
		Scanned:     t.Scanned,
	}
	if listing != nil {
		info.Listing = &models.ListingInfo{Seller: listing.Seller.Hex(), Price: listing.Price.Dec()}
	}
	return info
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Microsecond).String()
}
