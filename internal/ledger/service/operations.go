package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ticket-ledger/internal/ledger"
)

func (s *Service) Mint(ctx context.Context, caller, to common.Address, eventID uint64, metadataURI string) (uint64, error) {
	var id uint64
	err := s.exec(ctx, "mint", caller, func() error {
		var err error
		id, err = s.ledger.Mint(caller, to, eventID, metadataURI)
		return err
	})
	return id, err
}

func (s *Service) Transfer(ctx context.Context, caller common.Address, ticketID uint64, to common.Address) error {
	return s.exec(ctx, "transfer", caller, func() error {
		return s.ledger.Transfer(caller, ticketID, to)
	})
}

func (s *Service) Scan(ctx context.Context, caller common.Address, ticketID uint64) error {
	return s.exec(ctx, "scan", caller, func() error {
		return s.ledger.Scan(caller, ticketID)
	})
}

// ScanPass admits the holder of a sealed gate pass. The pass must have been
// issued to the ticket's current owner.
func (s *Service) ScanPass(ctx context.Context, caller common.Address, token string) (uint64, error) {
	if s.passes == nil {
		return 0, ErrPassesDisabled
	}
	pass, err := s.passes.Open(token)
	if err != nil {
		s.logger.LogSecurity("BAD_PASS", fmt.Sprintf("scanner=%s: %v", caller.Hex(), err))
		return 0, err
	}
	err = s.exec(ctx, "scan", caller, func() error {
		t, err := s.ledger.Ticket(pass.TicketID)
		if err != nil {
			return err
		}
		if t.EventID != pass.EventID {
			return fmt.Errorf("%w: %w: ticket %d", ledger.ErrPrecondition, ErrPassMismatch, pass.TicketID)
		}
		if t.Owner != pass.Holder {
			return fmt.Errorf("%w: %w: ticket %d", ledger.ErrPrecondition, ErrStalePass, pass.TicketID)
		}
		return s.ledger.Scan(caller, pass.TicketID)
	})
	return pass.TicketID, err
}

// Pass renders a fresh gate pass for the owner of ticketID.
func (s *Service) Pass(caller common.Address, ticketID uint64) ([]byte, error) {
	if s.passes == nil {
		return nil, ErrPassesDisabled
	}
	var (
		t   ledger.Ticket
		err error
	)
	s.read(func() { t, err = s.ledger.Ticket(ticketID) })
	if err != nil {
		return nil, err
	}
	if t.Owner != caller {
		return nil, fmt.Errorf("%w: %d", ledger.ErrNotOwner, ticketID)
	}
	return s.passes.PNG(s.passes.Issue(t.ID, t.EventID, t.Owner))
}

func (s *Service) Burn(ctx context.Context, caller common.Address, ticketID uint64) error {
	return s.exec(ctx, "burn", caller, func() error {
		return s.ledger.Burn(caller, ticketID)
	})
}

func (s *Service) List(ctx context.Context, caller common.Address, ticketID uint64, price *uint256.Int) error {
	return s.exec(ctx, "list", caller, func() error {
		return s.ledger.List(caller, ticketID, price)
	})
}

func (s *Service) Cancel(ctx context.Context, caller common.Address, ticketID uint64) error {
	return s.exec(ctx, "cancel", caller, func() error {
		return s.ledger.Cancel(caller, ticketID)
	})
}

func (s *Service) Buy(ctx context.Context, caller common.Address, ticketID uint64, payment *uint256.Int) (ledger.Sale, error) {
	var sale ledger.Sale
	err := s.exec(ctx, "buy", caller, func() error {
		var err error
		sale, err = s.ledger.Buy(caller, ticketID, payment)
		return err
	})
	return sale, err
}

func (s *Service) Grant(ctx context.Context, caller common.Address, role ledger.Role, account common.Address) error {
	return s.exec(ctx, "grant", caller, func() error {
		return s.ledger.Grant(caller, role, account)
	})
}

func (s *Service) Revoke(ctx context.Context, caller common.Address, role ledger.Role, account common.Address) error {
	return s.exec(ctx, "revoke", caller, func() error {
		return s.ledger.Revoke(caller, role, account)
	})
}

func (s *Service) SetRoyalty(ctx context.Context, caller, recipient common.Address, rate uint16) error {
	return s.exec(ctx, "set_royalty", caller, func() error {
		return s.ledger.SetRoyalty(caller, recipient, rate)
	})
}

// Deposit credits new value to account. Administrators only; it backs the
// operator faucet since the bank has no external funding source.
func (s *Service) Deposit(ctx context.Context, caller, account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var balance *uint256.Int
	err := s.exec(ctx, "deposit", caller, func() error {
		if !s.ledger.HasRole(caller, ledger.RoleAdministrator) {
			return fmt.Errorf("%w: %s", ledger.ErrMissingRole, ledger.RoleAdministrator)
		}
		snap := s.bank.Snapshot()
		if err := s.bank.Mint(account, amount); err != nil {
			s.bank.RevertToSnapshot(snap)
			return fmt.Errorf("%w: %w", ledger.ErrPrecondition, err)
		}
		if err := s.store.SaveBalances(ctx, s.dirtyBalances(s.now().UTC())); err != nil {
			s.bank.RevertToSnapshot(snap)
			return fmt.Errorf("%w: %w", ledger.ErrHost, err)
		}
		balance = s.bank.BalanceOf(account)
		return nil
	})
	return balance, err
}

// Reads.

func (s *Service) Ticket(ticketID uint64) (ledger.Ticket, *ledger.Listing, error) {
	var (
		t       ledger.Ticket
		listing *ledger.Listing
		err     error
	)
	s.read(func() {
		t, err = s.ledger.Ticket(ticketID)
		if err != nil {
			return
		}
		if l, ok := s.ledger.ListingOf(ticketID); ok {
			listing = &l
		}
	})
	return t, listing, err
}

func (s *Service) TicketsOf(owner common.Address) []ledger.Ticket {
	var out []ledger.Ticket
	s.read(func() { out = s.ledger.TicketsOf(owner) })
	return out
}

func (s *Service) Royalty() (ledger.RoyaltyConfig, uint16) {
	var (
		cfg     ledger.RoyaltyConfig
		ceiling uint16
	)
	s.read(func() { cfg, ceiling = s.ledger.Royalty(), s.ledger.RoyaltyCeiling() })
	return cfg, ceiling
}

func (s *Service) RoleMembers(role ledger.Role) []common.Address {
	var out []common.Address
	s.read(func() { out = s.ledger.RoleMembers(role) })
	return out
}

func (s *Service) BalanceOf(account common.Address) *uint256.Int {
	var out *uint256.Int
	s.read(func() { out = s.bank.BalanceOf(account) })
	return out
}
