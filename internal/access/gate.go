// Package access holds the operator configuration: who owns the deployment,
// who receives protocol fees, who may create markets and at what fee rates.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Config names the privileged identities of a deployment.
type Config struct {
	Owner             domain.Address
	ProtocolRecipient domain.Address
}

// CreationSettings controls who may create markets. MinBalance is in the
// gating token's own base units.
type CreationSettings struct {
	GatingToken    domain.Address `json:"gating_token"`
	MinBalance     *big.Int       `json:"min_balance"`
	PublicCreation bool           `json:"public_creation"`
}

// FeeSchedule is the rate set applied to markets created from now on.
// Creators choose their own rate up to MaxCreatorBps.
type FeeSchedule struct {
	ProtocolBps   domain.Bps `json:"protocol_bps"`
	MaxCreatorBps domain.Bps `json:"max_creator_bps"`
}

// BalanceLookup reads a holder's balance of a token.
type BalanceLookup interface {
	BalanceOf(ctx context.Context, token, holder domain.Address) (*big.Int, error)
}

// Gate evaluates creation permission and owner-only changes.
type Gate struct {
	cfg      Config
	balances BalanceLookup
	maxTotal domain.Bps
	logger   *slog.Logger

	mu       sync.RWMutex
	settings CreationSettings
	fees     FeeSchedule
}

// NewGate creates a Gate. maxTotalBps caps ProtocolBps + MaxCreatorBps.
func NewGate(cfg Config, settings CreationSettings, fees FeeSchedule, maxTotalBps domain.Bps, balances BalanceLookup, logger *slog.Logger) (*Gate, error) {
	if cfg.Owner == (domain.Address{}) {
		return nil, fmt.Errorf("access: %w: owner is the zero address", domain.ErrInvalidAddress)
	}
	if cfg.ProtocolRecipient == (domain.Address{}) {
		return nil, fmt.Errorf("access: %w: protocol recipient is the zero address", domain.ErrInvalidAddress)
	}
	g := &Gate{
		cfg:      cfg,
		balances: balances,
		maxTotal: maxTotalBps,
		logger:   logger.With(slog.String("component", "access")),
		settings: cloneSettings(settings),
	}
	if err := g.checkFees(fees); err != nil {
		return nil, err
	}
	g.fees = fees
	return g, nil
}

// Owner returns the deployment owner.
func (g *Gate) Owner() domain.Address { return g.cfg.Owner }

// ProtocolRecipient returns the address that may withdraw protocol fees.
func (g *Gate) ProtocolRecipient() domain.Address { return g.cfg.ProtocolRecipient }

// IsOwner reports whether caller is the owner.
func (g *Gate) IsOwner(caller domain.Address) bool { return caller == g.cfg.Owner }

// RequireOwner fails with ErrNotOperator unless caller is the owner.
func (g *Gate) RequireOwner(caller domain.Address) error {
	if !g.IsOwner(caller) {
		return fmt.Errorf("access: %s: %w", caller.Hex(), domain.ErrNotOperator)
	}
	return nil
}

// Allow decides whether caller may create a market. The token balance is
// read on every call; nothing is cached, so a holder who drops below the
// minimum is refused immediately.
func (g *Gate) Allow(ctx context.Context, caller domain.Address) error {
	s := g.CreationSettings()
	if s.PublicCreation {
		return nil
	}
	if s.GatingToken == (domain.Address{}) {
		return fmt.Errorf("access: no gating token configured: %w", domain.ErrCreationNotPermitted)
	}
	if g.balances == nil {
		return fmt.Errorf("access: no balance source: %w", domain.ErrCreationNotPermitted)
	}
	bal, err := g.balances.BalanceOf(ctx, s.GatingToken, caller)
	if err != nil {
		return fmt.Errorf("access: balance lookup for %s: %w", caller.Hex(), err)
	}
	floor := s.MinBalance
	if floor == nil {
		floor = new(big.Int)
	}
	if bal.Cmp(floor) < 0 {
		return fmt.Errorf("access: balance %s below %s: %w", bal, floor, domain.ErrCreationNotPermitted)
	}
	return nil
}

// CreationSettings returns a copy of the current settings.
func (g *Gate) CreationSettings() CreationSettings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return cloneSettings(g.settings)
}

// SetCreationSettings replaces the creation settings.
func (g *Gate) SetCreationSettings(ctx context.Context, caller domain.Address, s CreationSettings) error {
	if err := g.RequireOwner(caller); err != nil {
		return err
	}
	if s.MinBalance != nil && s.MinBalance.Sign() < 0 {
		return fmt.Errorf("access: %w: negative min balance", domain.ErrInvalidAmount)
	}
	g.mu.Lock()
	g.settings = cloneSettings(s)
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "creation settings updated",
		slog.String("gating_token", s.GatingToken.Hex()),
		slog.Bool("public", s.PublicCreation),
	)
	return nil
}

// Fees returns the current fee schedule.
func (g *Gate) Fees() FeeSchedule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fees
}

// SetFees replaces the fee schedule. Existing markets keep the rates they
// were created with.
func (g *Gate) SetFees(ctx context.Context, caller domain.Address, f FeeSchedule) error {
	if err := g.RequireOwner(caller); err != nil {
		return err
	}
	if err := g.checkFees(f); err != nil {
		return err
	}
	g.mu.Lock()
	g.fees = f
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "fee schedule updated",
		slog.Uint64("protocol_bps", uint64(f.ProtocolBps)),
		slog.Uint64("max_creator_bps", uint64(f.MaxCreatorBps)),
	)
	return nil
}

// RatesFor returns the rates to freeze into a new market whose creator asked
// for creatorBps.
func (g *Gate) RatesFor(creatorBps domain.Bps) (domain.FeeRates, error) {
	f := g.Fees()
	if creatorBps > f.MaxCreatorBps {
		return domain.FeeRates{}, fmt.Errorf("access: %w: creator fee %d bps exceeds %d",
			domain.ErrInvalidFeeRate, creatorBps, f.MaxCreatorBps)
	}
	return domain.FeeRates{ProtocolBps: f.ProtocolBps, CreatorBps: creatorBps}, nil
}

func (g *Gate) checkFees(f FeeSchedule) error {
	total := f.ProtocolBps + f.MaxCreatorBps
	if total > g.maxTotal || total >= domain.BpsDenominator {
		return fmt.Errorf("access: %w: %d + %d bps exceeds cap %d",
			domain.ErrInvalidFeeRate, f.ProtocolBps, f.MaxCreatorBps, g.maxTotal)
	}
	return nil
}

func cloneSettings(s CreationSettings) CreationSettings {
	if s.MinBalance != nil {
		s.MinBalance = new(big.Int).Set(s.MinBalance)
	}
	return s
}
