package ledger

import "errors"

// Kind classifies why a ledger call was rejected.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindPrecondition
	KindValueTransfer
	KindReentrancy
	// KindHost covers failures of the hosting environment itself, such as a
	// commit hook that could not persist the call.
	KindHost
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindValueTransfer:
		return "value_transfer"
	case KindReentrancy:
		return "reentrancy"
	case KindHost:
		return "host"
	default:
		return "unknown"
	}
}

// Error is a rejection reason. Errors without a message act as category
// sentinels: errors.Is(err, ErrPrecondition) matches every precondition error.
type Error struct {
	Kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return "ledger: " + e.Kind.String() + " failure"
	}
	return "ledger: " + e.msg
}

// Is reports whether target is the category sentinel of e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.msg != "" {
		return false
	}
	return t.Kind == e.Kind
}

// Category sentinels.
var (
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrPrecondition  = &Error{Kind: KindPrecondition}
	ErrValueTransfer = &Error{Kind: KindValueTransfer}
	ErrReentrancy    = &Error{Kind: KindReentrancy}
	ErrHost          = &Error{Kind: KindHost}
)

var (
	ErrMissingRole = newError(KindAuthorization, "caller lacks required role")
	ErrNotOwner    = newError(KindAuthorization, "caller does not own ticket")
	ErrNotSeller   = newError(KindAuthorization, "caller is neither seller nor administrator")

	ErrZeroAccount         = newError(KindPrecondition, "account must not be zero")
	ErrZeroEventID         = newError(KindPrecondition, "event id must not be zero")
	ErrTicketIDOverflow    = newError(KindPrecondition, "ticket id counter exhausted")
	ErrTicketNotFound      = newError(KindPrecondition, "ticket not found")
	ErrAlreadyScanned      = newError(KindPrecondition, "ticket already scanned")
	ErrSelfTransfer        = newError(KindPrecondition, "recipient already owns ticket")
	ErrInvalidPrice        = newError(KindPrecondition, "price must be positive")
	ErrNoListing           = newError(KindPrecondition, "no active listing")
	ErrSelfPurchase        = newError(KindPrecondition, "seller cannot buy own listing")
	ErrInsufficientPayment = newError(KindPrecondition, "payment below listing price")
	ErrRateAboveCeiling    = newError(KindPrecondition, "royalty rate above ceiling")
	ErrUnknownRole         = newError(KindPrecondition, "unknown role")
	ErrLastAdministrator   = newError(KindPrecondition, "cannot revoke the last administrator")
	ErrVaultNotConfigured  = newError(KindPrecondition, "value vault not configured")
	ErrCorruptLog          = newError(KindPrecondition, "event log inconsistent with ledger state")
	ErrPaymentFailed       = newError(KindValueTransfer, "payment collection failed")
	ErrRoyaltyTransfer     = newError(KindValueTransfer, "royalty transfer failed")
	ErrPayoutTransfer      = newError(KindValueTransfer, "payout transfer failed")
	ErrRefundTransfer      = newError(KindValueTransfer, "refund transfer failed")
	ErrReentrantCall       = newError(KindReentrancy, "reentrant call rejected")
	ErrCommitRejected      = newError(KindHost, "commit rejected by host")
)

// KindOf returns the kind of the first ledger error in err's tree.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
