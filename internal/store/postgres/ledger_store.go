package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/domain/schema"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Every Commit
// is applied inside one transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Apply writes every part of c in a single transaction.
func (s *LedgerStore) Apply(ctx context.Context, c domain.Commit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	if c.Market != nil {
		record, err := schema.Encode(*c.Market)
		if err != nil {
			return fmt.Errorf("postgres: encode market %d: %w", c.Market.ID, err)
		}
		batch.Queue(`
			INSERT INTO markets (id, status, creator, end_time, schema_version, record, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (id) DO UPDATE SET
				status         = EXCLUDED.status,
				schema_version = EXCLUDED.schema_version,
				record         = EXCLUDED.record,
				updated_at     = NOW()`,
			int64(c.Market.ID), string(c.Market.Status), c.Market.Creator.Hex(),
			c.Market.EndTime, schema.CurrentVersion, record,
		)
	}
	for _, p := range c.Positions {
		if p.Shares == 0 {
			batch.Queue(`DELETE FROM positions WHERE market_id = $1 AND holder = $2 AND outcome = $3`,
				int64(p.MarketID), p.Holder.Hex(), p.Outcome)
			continue
		}
		batch.Queue(`
			INSERT INTO positions (market_id, holder, outcome, shares)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (market_id, holder, outcome) DO UPDATE SET shares = EXCLUDED.shares`,
			int64(p.MarketID), p.Holder.Hex(), p.Outcome, int64(p.Shares))
	}
	for _, b := range c.Balances {
		batch.Queue(`
			INSERT INTO balances (holder, amount, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (holder) DO UPDATE SET
				amount     = balances.amount + EXCLUDED.amount,
				updated_at = NOW()`,
			b.Holder.Hex(), int64(b.Delta))
	}
	if a := c.Accrual; a != nil {
		batch.Queue(`
			INSERT INTO fee_accruals (
				market_id, protocol, creator, forfeited_bonds,
				protocol_withdrawn, creator_withdrawn
			) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (market_id) DO UPDATE SET
				protocol           = EXCLUDED.protocol,
				creator            = EXCLUDED.creator,
				forfeited_bonds    = EXCLUDED.forfeited_bonds,
				protocol_withdrawn = EXCLUDED.protocol_withdrawn,
				creator_withdrawn  = EXCLUDED.creator_withdrawn`,
			int64(a.MarketID), int64(a.Protocol), int64(a.Creator), int64(a.ForfeitedBonds),
			int64(a.ProtocolWithdrawn), int64(a.CreatorWithdrawn))
	}
	if r := c.Assertion; r != nil {
		var disputer *string
		if r.Assertion.Disputer != nil {
			d := r.Assertion.Disputer.Hex()
			disputer = &d
		}
		batch.Queue(`
			INSERT INTO assertions (
				market_id, round, asserter, outcome, bond,
				asserted_at, state, disputer, closed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (market_id, round) DO UPDATE SET
				state     = EXCLUDED.state,
				disputer  = EXCLUDED.disputer,
				closed_at = EXCLUDED.closed_at`,
			int64(r.MarketID), r.Round, r.Assertion.Asserter.Hex(), r.Assertion.Outcome,
			int64(r.Assertion.Bond), r.Assertion.AssertedAt, string(r.Assertion.State),
			disputer, r.Assertion.ClosedAt)
	}
	for _, e := range c.Events {
		var detail []byte
		if e.Detail != nil {
			detail, err = json.Marshal(e.Detail)
			if err != nil {
				return fmt.Errorf("postgres: marshal event detail: %w", err)
			}
		}
		batch.Queue(`
			INSERT INTO market_events (
				market_id, seq, kind, actor, outcome,
				shares, amount, detail, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			int64(e.MarketID), int64(e.Seq), string(e.Kind), e.Actor.Hex(), e.Outcome,
			int64(e.Shares), int64(e.Amount), detail, e.Timestamp)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: apply commit statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close commit batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// LoadMarkets decodes every stored market record, upgrading old versions.
func (s *LedgerStore) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m, err := schema.Decode(record)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load markets rows: %w", err)
	}
	return markets, nil
}

// LoadPositions returns every non-zero position.
func (s *LedgerStore) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_id, holder, outcome, shares FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			id, shares int64
			holder     string
			p          domain.Position
		)
		if err := rows.Scan(&id, &holder, &p.Outcome, &shares); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.MarketID = uint64(id)
		p.Holder = common.HexToAddress(holder)
		p.Shares = domain.Shares(shares)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadBalances returns every holder balance.
func (s *LedgerStore) LoadBalances(ctx context.Context) (map[domain.Address]domain.Amount, error) {
	rows, err := s.pool.Query(ctx, `SELECT holder, amount FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load balances: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Address]domain.Amount)
	for rows.Next() {
		var (
			holder string
			amount int64
		)
		if err := rows.Scan(&holder, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out[common.HexToAddress(holder)] = domain.Amount(amount)
	}
	return out, rows.Err()
}

// LoadAccruals returns every fee accrual.
func (s *LedgerStore) LoadAccruals(ctx context.Context) ([]domain.FeeAccrual, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, protocol, creator, forfeited_bonds,
		       protocol_withdrawn, creator_withdrawn
		FROM fee_accruals`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load accruals: %w", err)
	}
	defer rows.Close()

	var out []domain.FeeAccrual
	for rows.Next() {
		var id, protocol, creator, forfeited, pw, cw int64
		if err := rows.Scan(&id, &protocol, &creator, &forfeited, &pw, &cw); err != nil {
			return nil, fmt.Errorf("postgres: scan accrual: %w", err)
		}
		out = append(out, domain.FeeAccrual{
			MarketID:          uint64(id),
			Protocol:          domain.Amount(protocol),
			Creator:           domain.Amount(creator),
			ForfeitedBonds:    domain.Amount(forfeited),
			ProtocolWithdrawn: domain.Amount(pw),
			CreatorWithdrawn:  domain.Amount(cw),
		})
	}
	return out, rows.Err()
}

// ListEvents returns a market's events in sequence order.
func (s *LedgerStore) ListEvents(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	f := newFilter(`SELECT seq, kind, actor, outcome, shares, amount, detail, created_at
		FROM market_events WHERE market_id = $1 AND seq > $2`, int64(marketID), int64(opts.AfterSeq))
	f.window("kind", opts)
	f.page("seq", opts)

	rows, err := s.pool.Query(ctx, f.String(), f.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %d: %w", marketID, err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		return scanEvent(row, marketID)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %d: %w", marketID, err)
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow, marketID uint64) (domain.Event, error) {
	var (
		seq, shares, amount int64
		kind, actor         string
		detail              []byte
		ts                  time.Time
		e                   = domain.Event{MarketID: marketID}
	)
	if err := row.Scan(&seq, &kind, &actor, &e.Outcome, &shares, &amount, &detail, &ts); err != nil {
		return e, err
	}
	e.Seq = uint64(seq)
	e.Kind = domain.EventKind(kind)
	e.Actor = common.HexToAddress(actor)
	e.Shares = domain.Shares(shares)
	e.Amount = domain.Amount(amount)
	e.Timestamp = ts.UTC()
	if detail != nil {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return e, fmt.Errorf("decode detail of event %d: %w", seq, err)
		}
	}
	return e, nil
}

// SumVolume adds the cost paid over a market's SharesPurchased events.
func (s *LedgerStore) SumVolume(ctx context.Context, marketID uint64) (domain.Amount, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM market_events
		WHERE market_id = $1 AND kind = $2`,
		int64(marketID), string(domain.EventSharesPurchased),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum volume for market %d: %w", marketID, err)
	}
	return domain.Amount(total), nil
}

// ListAssertions returns a market's assertion history by round.
func (s *LedgerStore) ListAssertions(ctx context.Context, marketID uint64) ([]domain.AssertionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT round, asserter, outcome, bond, asserted_at, state, disputer, closed_at
		FROM assertions WHERE market_id = $1 ORDER BY round`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list assertions for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.AssertionRecord
	for rows.Next() {
		var (
			asserter, state string
			bond            int64
			disputer        *string
			r               = domain.AssertionRecord{MarketID: marketID}
		)
		if err := rows.Scan(&r.Round, &asserter, &r.Assertion.Outcome, &bond,
			&r.Assertion.AssertedAt, &state, &disputer, &r.Assertion.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan assertion: %w", err)
		}
		r.Assertion.Asserter = common.HexToAddress(asserter)
		r.Assertion.Bond = domain.Amount(bond)
		r.Assertion.State = domain.AssertionState(state)
		if disputer != nil {
			d := common.HexToAddress(*disputer)
			r.Assertion.Disputer = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
