package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/lmsrmarket/internal/access"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/ledger"
	"github.com/alanyoungcy/lmsrmarket/internal/resolution"
)

// MarketService is the application facade over the ledger, the resolver and
// the creation gate. HTTP handlers and background workers go through it.
type MarketService struct {
	ledger   *ledger.Ledger
	resolver *resolution.Resolver
	gate     *access.Gate
	audit    domain.AuditStore
	prices   domain.PriceCache
	archiver domain.Archiver
	metrics  *Metrics
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. prices and archiver may be nil.
func NewMarketService(
	l *ledger.Ledger,
	resolver *resolution.Resolver,
	gate *access.Gate,
	audit domain.AuditStore,
	prices domain.PriceCache,
	archiver domain.Archiver,
	metrics *Metrics,
	logger *slog.Logger,
) *MarketService {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &MarketService{
		ledger:   l,
		resolver: resolver,
		gate:     gate,
		audit:    audit,
		prices:   prices,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarket opens a new market funded by the caller.
func (s *MarketService) CreateMarket(ctx context.Context, caller domain.Address, p ledger.CreateParams) (domain.Market, error) {
	m, err := s.ledger.CreateMarket(ctx, caller, p)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}
	return m, nil
}

// ListMarkets returns basic info for markets ordered by id.
func (s *MarketService) ListMarkets(opts domain.ListOpts) []domain.MarketInfo {
	markets := s.ledger.Markets()
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	now := s.ledger.Now()
	out := make([]domain.MarketInfo, 0, len(markets))
	skipped := 0
	for i := range markets {
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, markets[i].Info(now))
	}
	return out
}

// Count returns the number of markets.
func (s *MarketService) Count() int {
	return len(s.ledger.Markets())
}

// Info returns getMarketBasicInfo for one market.
func (s *MarketService) Info(id uint64) (domain.MarketInfo, error) {
	return s.ledger.Info(id)
}

// Market returns the full market record.
func (s *MarketService) Market(id uint64) (domain.Market, error) {
	return s.ledger.Market(id)
}

// Prices serves getAllPrices from the cache when the cached snapshot is at
// the market's current event sequence, and back-fills it otherwise.
func (s *MarketService) Prices(ctx context.Context, id uint64) (domain.PriceSnapshot, error) {
	m, err := s.ledger.Market(id)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}

	if s.prices != nil {
		snap, err := s.prices.Get(ctx, id)
		switch {
		case err == nil && snap.Seq == m.EventSeq:
			s.metrics.PriceCacheHits.WithLabelValues("hit").Inc()
			return snap, nil
		case err == nil, errors.Is(err, domain.ErrNotFound):
			s.metrics.PriceCacheHits.WithLabelValues("miss").Inc()
		default:
			s.metrics.PriceCacheHits.WithLabelValues("error").Inc()
			s.logger.WarnContext(ctx, "market_service: price cache read failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	snap, err := s.ledger.Prices(id)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	if s.prices != nil {
		if err := s.prices.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "market_service: price cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// Volume returns the market's cumulative buy volume.
func (s *MarketService) Volume(ctx context.Context, id uint64) (domain.Amount, error) {
	return s.ledger.Volume(ctx, id)
}

// Position returns holder's share vector in a market.
func (s *MarketService) Position(id uint64, holder domain.Address) ([]domain.Shares, error) {
	return s.ledger.Position(id, holder)
}

// Trades lists a market's stored events.
func (s *MarketService) Trades(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Event, error) {
	return s.ledger.Trades(ctx, id, opts)
}

// Assertions lists a market's assertion history.
func (s *MarketService) Assertions(ctx context.Context, id uint64) ([]domain.AssertionRecord, error) {
	return s.ledger.Assertions(ctx, id)
}

// Accrual returns a market's fee accrual.
func (s *MarketService) Accrual(id uint64) (domain.FeeAccrual, error) {
	return s.ledger.Accrual(id)
}

// Balance returns holder's settlement balance.
func (s *MarketService) Balance(holder domain.Address) domain.Amount {
	return s.ledger.Balance(holder)
}

// Buy purchases shares for the caller.
func (s *MarketService) Buy(ctx context.Context, caller domain.Address, id uint64, outcome int, shares domain.Shares, maxCost domain.Amount) (domain.TradeReceipt, error) {
	r, err := s.ledger.Buy(ctx, caller, id, outcome, shares, maxCost)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	s.recordTrade(r)
	return r, nil
}

// Sell sells shares back to the market maker.
func (s *MarketService) Sell(ctx context.Context, caller domain.Address, id uint64, outcome int, shares domain.Shares, minProceeds domain.Amount) (domain.TradeReceipt, error) {
	r, err := s.ledger.Sell(ctx, caller, id, outcome, shares, minProceeds)
	if err != nil {
		return domain.TradeReceipt{}, err
	}
	s.recordTrade(r)
	return r, nil
}

func (s *MarketService) recordTrade(r domain.TradeReceipt) {
	side := string(r.Side)
	s.metrics.Trades.WithLabelValues(side).Inc()
	s.metrics.TradeVolume.WithLabelValues(side).Add(float64(r.Fees.Gross))
}

// Assert submits a bonded outcome claim.
func (s *MarketService) Assert(ctx context.Context, caller domain.Address, id uint64, outcome int, bond domain.Amount) (domain.Market, error) {
	m, err := s.resolver.Assert(ctx, caller, id, outcome, bond)
	if err != nil {
		return domain.Market{}, err
	}
	s.metrics.Resolutions.WithLabelValues("assert").Inc()
	return m, nil
}

// Dispute challenges the pending assertion.
func (s *MarketService) Dispute(ctx context.Context, caller domain.Address, id uint64) (domain.Market, error) {
	m, err := s.resolver.Dispute(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}
	s.metrics.Resolutions.WithLabelValues("dispute").Inc()
	return m, nil
}

// Settle finalizes an undisputed assertion and archives the resolved market.
func (s *MarketService) Settle(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.resolver.Settle(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	s.metrics.Resolutions.WithLabelValues("settle").Inc()
	s.snapshot(ctx, m)
	return m, nil
}

// Claim pays out the caller's winning shares. A market whose assertion is
// past its dispute window is settled first, so claimants do not depend on
// the background settler having run.
func (s *MarketService) Claim(ctx context.Context, caller domain.Address, id uint64) (domain.Amount, error) {
	m, err := s.ledger.Market(id)
	if err != nil {
		return 0, err
	}
	if m.Status == domain.MarketStatusAssertionPending && m.Assertion != nil &&
		!s.ledger.Now().Before(s.resolver.Deadline(m.Assertion)) {
		if _, err := s.Settle(ctx, id); err != nil && !errors.Is(err, domain.ErrMarketAlreadyResolved) {
			return 0, err
		}
	}
	return s.ledger.ClaimPayout(ctx, caller, id)
}

// Withdraw moves settlement balance out of the service.
func (s *MarketService) Withdraw(ctx context.Context, caller domain.Address, amount domain.Amount) error {
	return s.ledger.Withdraw(ctx, caller, amount)
}

// WithdrawFees pays out accrued fees to their recipient.
func (s *MarketService) WithdrawFees(ctx context.Context, caller domain.Address, id uint64, kind domain.FeeKind) (domain.Amount, error) {
	return s.ledger.WithdrawFees(ctx, caller, id, kind)
}

// Credit records an operator deposit for holder.
func (s *MarketService) Credit(ctx context.Context, caller, holder domain.Address, amount domain.Amount) error {
	return s.ledger.Credit(ctx, caller, holder, amount)
}

// CreationSettings returns the current creation gate.
func (s *MarketService) CreationSettings() access.CreationSettings {
	return s.gate.CreationSettings()
}

// SetCreationSettings replaces the creation gate. Owner only.
func (s *MarketService) SetCreationSettings(ctx context.Context, caller domain.Address, cs access.CreationSettings) error {
	if err := s.gate.SetCreationSettings(ctx, caller, cs); err != nil {
		return err
	}
	s.logAudit(ctx, "creation_settings_updated", map[string]any{
		"caller":          caller.Hex(),
		"gating_token":    cs.GatingToken.Hex(),
		"min_balance":     bigString(cs),
		"public_creation": cs.PublicCreation,
	})
	return nil
}

// Fees returns the fee schedule applied to new markets.
func (s *MarketService) Fees() access.FeeSchedule {
	return s.gate.Fees()
}

// SetFees replaces the fee schedule for new markets. Owner only.
func (s *MarketService) SetFees(ctx context.Context, caller domain.Address, f access.FeeSchedule) error {
	if err := s.gate.SetFees(ctx, caller, f); err != nil {
		return err
	}
	s.logAudit(ctx, "fees_updated", map[string]any{
		"caller":          caller.Hex(),
		"protocol_bps":    f.ProtocolBps,
		"max_creator_bps": f.MaxCreatorBps,
	})
	return nil
}

// Correct applies an operator correction to a market.
func (s *MarketService) Correct(ctx context.Context, caller domain.Address, id uint64, c ledger.Correction) (domain.Market, error) {
	return s.ledger.Correct(ctx, caller, id, c)
}

// Audit lists audit entries newest first. Owner only.
func (s *MarketService) Audit(ctx context.Context, caller domain.Address, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if err := s.gate.RequireOwner(caller); err != nil {
		return nil, err
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: audit: %w", err)
	}
	return entries, nil
}

// Archive exports a market's new trade events and, once resolved, its final
// snapshot. Owner only.
func (s *MarketService) Archive(ctx context.Context, caller domain.Address, id uint64) (int64, error) {
	if err := s.gate.RequireOwner(caller); err != nil {
		return 0, err
	}
	if s.archiver == nil {
		return 0, fmt.Errorf("market_service: archive: %w", ErrArchiveDisabled)
	}
	m, err := s.ledger.Market(id)
	if err != nil {
		return 0, err
	}
	n, err := s.archiver.ArchiveTrades(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("market_service: archive trades %d: %w", id, err)
	}
	if m.Status == domain.MarketStatusResolved {
		if err := s.archiver.ArchiveMarket(ctx, m); err != nil {
			return n, fmt.Errorf("market_service: archive market %d: %w", id, err)
		}
	}
	return n, nil
}

// Archives lists a market's exported objects. Owner only.
func (s *MarketService) Archives(ctx context.Context, caller domain.Address, id uint64) ([]domain.BlobInfo, error) {
	if err := s.gate.RequireOwner(caller); err != nil {
		return nil, err
	}
	if s.archiver == nil {
		return nil, fmt.Errorf("market_service: archives: %w", ErrArchiveDisabled)
	}
	if _, err := s.ledger.Market(id); err != nil {
		return nil, err
	}
	infos, err := s.archiver.ListArchives(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: archives %d: %w", id, err)
	}
	return infos, nil
}

// ErrArchiveDisabled is returned when no object store is configured.
var ErrArchiveDisabled = fmt.Errorf("archive storage: %w", domain.ErrUnavailable)

func (s *MarketService) snapshot(ctx context.Context, m domain.Market) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveMarket(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: archive resolved market failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.ErrorContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func bigString(cs access.CreationSettings) string {
	if cs.MinBalance == nil {
		return "0"
	}
	return cs.MinBalance.String()
}
