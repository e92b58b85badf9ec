package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// archivePageSize is how many events are read from the store per query.
const archivePageSize = 1000

// EventLister reads a market's persisted event log.
type EventLister interface {
	ListEvents(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error)
}

// checkpoint records the last event sequence exported for a market.
type checkpoint struct {
	LastSeq uint64 `json:"last_seq"`
}

// ArchiveImpl implements domain.Archiver. Trade events are exported
// incrementally as JSONL so external indexers can rebuild volume from them;
// a per-market checkpoint object remembers how far the export got.
//
// Nothing is deleted from the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventLister
	audit  domain.AuditStore
	clock  domain.Clock
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events EventLister,
	audit domain.AuditStore,
	clock domain.Clock,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		events: events,
		audit:  audit,
		clock:  clock,
	}
}

// ArchiveTrades exports the market's SharesPurchased and SharesSold events
// recorded since the last run to trades/market={id}/{date}-{uuid}.jsonl and
// returns how many were written.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, marketID uint64) (int64, error) {
	cp, err := a.loadCheckpoint(ctx, marketID)
	if err != nil {
		return 0, err
	}

	var (
		trades  []domain.Event
		lastSeq = cp.LastSeq
	)
	for {
		page, err := a.events.ListEvents(ctx, marketID, domain.ListOpts{AfterSeq: lastSeq, Limit: archivePageSize})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades query market %d: %w", marketID, err)
		}
		for _, e := range page {
			if e.Kind == domain.EventSharesPurchased || e.Kind == domain.EventSharesSold {
				trades = append(trades, e)
			}
			lastSeq = e.Seq
		}
		if len(page) < archivePageSize {
			break
		}
	}
	if lastSeq == cp.LastSeq {
		return 0, nil
	}

	path := ""
	if len(trades) > 0 {
		buf, err := marshalJSONL(trades)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
		}
		path = tradesPath(marketID, a.clock.Now().Format("2006-01-02"), uuid.NewString())
		if err := a.upload(ctx, path, buf); err != nil {
			return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
		}
	}

	// The checkpoint moves past non-trade events too, so an idle market
	// is not rescanned from the start.
	if err := a.saveCheckpoint(ctx, marketID, checkpoint{LastSeq: lastSeq}); err != nil {
		return 0, err
	}

	count := int64(len(trades))
	if count == 0 {
		return 0, nil
	}
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"market_id": marketID,
		"path":      path,
		"count":     count,
		"last_seq":  lastSeq,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

// ArchiveMarket writes a snapshot of m to markets/{id}.json, replacing any
// earlier snapshot.
func (a *ArchiveImpl) ArchiveMarket(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("s3blob: archive market marshal %d: %w", m.ID, err)
	}
	if err := a.writer.Put(ctx, marketPath(m.ID), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive market upload %d: %w", m.ID, err)
	}
	return nil
}

// ListArchives lists a market's trade exports oldest first, followed by its
// snapshot when one exists.
func (a *ArchiveImpl) ListArchives(ctx context.Context, marketID uint64) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, tradesPrefix(marketID))
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives %d: %w", marketID, err)
	}
	out := make([]domain.BlobInfo, 0, len(infos)+1)
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".jsonl") {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].Path < out[j].Path
	})

	snaps, err := a.reader.List(ctx, marketPath(marketID))
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives %d: %w", marketID, err)
	}
	for _, info := range snaps {
		if info.Path == marketPath(marketID) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

func (a *ArchiveImpl) loadCheckpoint(ctx context.Context, marketID uint64) (checkpoint, error) {
	rc, err := a.reader.Get(ctx, checkpointPath(marketID))
	if errors.Is(err, domain.ErrNotFound) {
		return checkpoint{}, nil
	}
	if err != nil {
		return checkpoint{}, fmt.Errorf("s3blob: read checkpoint %d: %w", marketID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return checkpoint{}, fmt.Errorf("s3blob: read checkpoint %d: %w", marketID, err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return checkpoint{}, fmt.Errorf("s3blob: decode checkpoint %d: %w", marketID, err)
	}
	return cp, nil
}

func (a *ArchiveImpl) saveCheckpoint(ctx context.Context, marketID uint64, cp checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("s3blob: encode checkpoint %d: %w", marketID, err)
	}
	if err := a.writer.Put(ctx, checkpointPath(marketID), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: write checkpoint %d: %w", marketID, err)
	}
	return nil
}

// tradesPath builds the object key for one export, partitioned by market.
//
//	trades/market=7/2025-06-01-3f0c....jsonl
func tradesPath(marketID uint64, date, id string) string {
	return tradesPrefix(marketID) + date + "-" + id + ".jsonl"
}

func tradesPrefix(marketID uint64) string {
	return "trades/market=" + strconv.FormatUint(marketID, 10) + "/"
}

func checkpointPath(marketID uint64) string {
	return tradesPrefix(marketID) + "_checkpoint.json"
}

func marketPath(marketID uint64) string {
	return "markets/" + strconv.FormatUint(marketID, 10) + ".json"
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
