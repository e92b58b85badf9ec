// Package sqlite implements the ledger and audit stores on an embedded SQLite
// database (pure Go, no cgo). It suits single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/domain/schema"
)

// Timestamps are stored as unix nanoseconds.
const ddl = `
CREATE TABLE IF NOT EXISTS markets (
    id             INTEGER PRIMARY KEY,
    status         TEXT    NOT NULL,
    creator        TEXT    NOT NULL,
    end_time       INTEGER NOT NULL,
    schema_version INTEGER NOT NULL,
    record         BLOB    NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    market_id INTEGER NOT NULL,
    holder    TEXT    NOT NULL,
    outcome   INTEGER NOT NULL,
    shares    INTEGER NOT NULL,
    PRIMARY KEY (market_id, holder, outcome)
);

CREATE TABLE IF NOT EXISTS balances (
    holder TEXT PRIMARY KEY,
    amount INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fee_accruals (
    market_id          INTEGER PRIMARY KEY,
    protocol           INTEGER NOT NULL DEFAULT 0,
    creator            INTEGER NOT NULL DEFAULT 0,
    forfeited_bonds    INTEGER NOT NULL DEFAULT 0,
    protocol_withdrawn INTEGER NOT NULL DEFAULT 0,
    creator_withdrawn  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS market_events (
    market_id  INTEGER NOT NULL,
    seq        INTEGER NOT NULL,
    kind       TEXT    NOT NULL,
    actor      TEXT    NOT NULL,
    outcome    INTEGER NOT NULL,
    shares     INTEGER NOT NULL DEFAULT 0,
    amount     INTEGER NOT NULL DEFAULT 0,
    detail     BLOB,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (market_id, seq)
);

CREATE TABLE IF NOT EXISTS assertions (
    market_id   INTEGER NOT NULL,
    round       INTEGER NOT NULL,
    record      BLOB    NOT NULL,
    PRIMARY KEY (market_id, round)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     BLOB,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_kind ON market_events(market_id, kind);
`

// Store implements domain.LedgerStore and domain.AuditStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Single writer; also keeps one ":memory:" database per Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply writes every part of c in one transaction.
func (s *Store) Apply(ctx context.Context, c domain.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyCommit(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func applyCommit(ctx context.Context, tx *sql.Tx, c domain.Commit) error {
	if m := c.Market; m != nil {
		record, err := schema.Encode(*m)
		if err != nil {
			return fmt.Errorf("sqlite: encode market %d: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO markets (id, status, creator, end_time, schema_version, record)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status         = excluded.status,
				schema_version = excluded.schema_version,
				record         = excluded.record`,
			int64(m.ID), string(m.Status), m.Creator.Hex(), m.EndTime.UnixNano(), schema.CurrentVersion, record,
		); err != nil {
			return fmt.Errorf("sqlite: upsert market %d: %w", m.ID, err)
		}
	}

	for _, p := range c.Positions {
		var err error
		if p.Shares == 0 {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM positions WHERE market_id = ? AND holder = ? AND outcome = ?`,
				int64(p.MarketID), p.Holder.Hex(), p.Outcome)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO positions (market_id, holder, outcome, shares) VALUES (?, ?, ?, ?)
				ON CONFLICT(market_id, holder, outcome) DO UPDATE SET shares = excluded.shares`,
				int64(p.MarketID), p.Holder.Hex(), p.Outcome, int64(p.Shares))
		}
		if err != nil {
			return fmt.Errorf("sqlite: write position: %w", err)
		}
	}

	for _, b := range c.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (holder, amount) VALUES (?, ?)
			ON CONFLICT(holder) DO UPDATE SET amount = balances.amount + excluded.amount`,
			b.Holder.Hex(), int64(b.Delta)); err != nil {
			return fmt.Errorf("sqlite: write balance: %w", err)
		}
	}

	if a := c.Accrual; a != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fee_accruals (
				market_id, protocol, creator, forfeited_bonds, protocol_withdrawn, creator_withdrawn
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(market_id) DO UPDATE SET
				protocol           = excluded.protocol,
				creator            = excluded.creator,
				forfeited_bonds    = excluded.forfeited_bonds,
				protocol_withdrawn = excluded.protocol_withdrawn,
				creator_withdrawn  = excluded.creator_withdrawn`,
			int64(a.MarketID), int64(a.Protocol), int64(a.Creator), int64(a.ForfeitedBonds),
			int64(a.ProtocolWithdrawn), int64(a.CreatorWithdrawn)); err != nil {
			return fmt.Errorf("sqlite: write accrual: %w", err)
		}
	}

	if r := c.Assertion; r != nil {
		record, err := json.Marshal(r.Assertion)
		if err != nil {
			return fmt.Errorf("sqlite: encode assertion: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assertions (market_id, round, record) VALUES (?, ?, ?)
			ON CONFLICT(market_id, round) DO UPDATE SET record = excluded.record`,
			int64(r.MarketID), r.Round, record); err != nil {
			return fmt.Errorf("sqlite: write assertion: %w", err)
		}
	}

	for _, e := range c.Events {
		var detail []byte
		if e.Detail != nil {
			var err error
			if detail, err = json.Marshal(e.Detail); err != nil {
				return fmt.Errorf("sqlite: encode event detail: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO market_events (
				market_id, seq, kind, actor, outcome, shares, amount, detail, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(e.MarketID), int64(e.Seq), string(e.Kind), e.Actor.Hex(), e.Outcome,
			int64(e.Shares), int64(e.Amount), detail, e.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("sqlite: append event %d/%d: %w", e.MarketID, e.Seq, err)
		}
	}
	return nil
}

// LoadMarkets decodes every stored market record, upgrading old versions.
func (s *Store) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		m, err := schema.Decode(record)
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadPositions returns every non-zero position.
func (s *Store) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market_id, holder, outcome, shares FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load positions: %w", err)
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
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		p.MarketID = uint64(id)
		p.Holder = common.HexToAddress(holder)
		p.Shares = domain.Shares(shares)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadBalances returns every holder balance.
func (s *Store) LoadBalances(ctx context.Context) (map[domain.Address]domain.Amount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT holder, amount FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load balances: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Address]domain.Amount)
	for rows.Next() {
		var (
			holder string
			amount int64
		)
		if err := rows.Scan(&holder, &amount); err != nil {
			return nil, fmt.Errorf("sqlite: scan balance: %w", err)
		}
		out[common.HexToAddress(holder)] = domain.Amount(amount)
	}
	return out, rows.Err()
}

// LoadAccruals returns every fee accrual.
func (s *Store) LoadAccruals(ctx context.Context) ([]domain.FeeAccrual, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, protocol, creator, forfeited_bonds, protocol_withdrawn, creator_withdrawn
		FROM fee_accruals`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load accruals: %w", err)
	}
	defer rows.Close()

	var out []domain.FeeAccrual
	for rows.Next() {
		var id, protocol, creator, forfeited, pw, cw int64
		if err := rows.Scan(&id, &protocol, &creator, &forfeited, &pw, &cw); err != nil {
			return nil, fmt.Errorf("sqlite: scan accrual: %w", err)
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
func (s *Store) ListEvents(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT seq, kind, actor, outcome, shares, amount, detail, created_at
		FROM market_events WHERE market_id = ? AND seq > ?`
	args := []any{int64(marketID), int64(opts.AfterSeq)}
	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += " AND created_at < ?"
		args = append(args, opts.Until.UnixNano())
	}
	query += " ORDER BY seq"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			seq, shares, amount, ts int64
			kind, actor             string
			detail                  []byte
			e                       = domain.Event{MarketID: marketID}
		)
		if err := rows.Scan(&seq, &kind, &actor, &e.Outcome, &shares, &amount, &detail, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Kind = domain.EventKind(kind)
		e.Actor = common.HexToAddress(actor)
		e.Shares = domain.Shares(shares)
		e.Amount = domain.Amount(amount)
		e.Timestamp = time.Unix(0, ts).UTC()
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: decode event detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SumVolume adds the cost paid over a market's SharesPurchased events.
func (s *Store) SumVolume(ctx context.Context, marketID uint64) (domain.Amount, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM market_events WHERE market_id = ? AND kind = ?`,
		int64(marketID), string(domain.EventSharesPurchased),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sum volume for market %d: %w", marketID, err)
	}
	return domain.Amount(total), nil
}

// ListAssertions returns a market's assertion history by round.
func (s *Store) ListAssertions(ctx context.Context, marketID uint64) ([]domain.AssertionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round, record FROM assertions WHERE market_id = ? ORDER BY round`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list assertions for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.AssertionRecord
	for rows.Next() {
		var (
			record []byte
			r      = domain.AssertionRecord{MarketID: marketID}
		)
		if err := rows.Scan(&r.Round, &record); err != nil {
			return nil, fmt.Errorf("sqlite: scan assertion: %w", err)
		}
		if err := json.Unmarshal(record, &r.Assertion); err != nil {
			return nil, fmt.Errorf("sqlite: decode assertion: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, raw, time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Kind != "" {
		query += " AND event = ?"
		args = append(args, string(opts.Kind))
	}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += " AND created_at < ?"
		args = append(args, opts.Until.UnixNano())
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail []byte
			ts     int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, ts).UTC()
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
