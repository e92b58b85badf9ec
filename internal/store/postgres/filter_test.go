package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

func TestFilter_NumbersPlaceholders(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	f := newFilter(`SELECT seq FROM market_events WHERE market_id = $1 AND seq > $2`, int64(7), int64(3))
	opts := domain.ListOpts{Kind: domain.EventSharesPurchased, Since: &since, Until: &until, Limit: 10, Offset: 20}
	f.window("kind", opts)
	f.page("seq", opts)

	assert.Equal(t,
		`SELECT seq FROM market_events WHERE market_id = $1 AND seq > $2`+
			` AND kind = $3 AND created_at >= $4 AND created_at < $5 ORDER BY seq LIMIT $6 OFFSET $7`,
		f.String())
	assert.Equal(t, []any{int64(7), int64(3), string(domain.EventSharesPurchased), since, until, 10, 20}, f.args)
}

func TestFilter_NoOptions(t *testing.T) {
	f := newFilter(`SELECT id FROM audit_log WHERE TRUE`)
	f.window("event", domain.ListOpts{})
	f.page("id DESC", domain.ListOpts{})

	assert.Equal(t, `SELECT id FROM audit_log WHERE TRUE ORDER BY id DESC`, f.String())
	assert.Empty(t, f.args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:p%40ss@db:5433/lmsr?sslmode=require", DSN(ClientConfig{
		Host: "db", Port: 5433, Database: "lmsr", User: "app", Password: "p@ss", SSLMode: "require",
	}))
	assert.Equal(t, "postgres://localhost:5432/lmsr?sslmode=disable", DSN(ClientConfig{Host: "localhost", Database: "lmsr"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
