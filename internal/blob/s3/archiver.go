package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * minPartSize
)

// ArchiverConfig tunes a QuoteArchiver.
type ArchiverConfig struct {
	// MaxRows flushes a kind once this many records are buffered.
	MaxRows       int
	FlushInterval time.Duration
}

// DefaultArchiverConfig returns the archiver defaults.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		MaxRows:       50_000,
		FlushInterval: 5 * time.Minute,
	}
}

// QuoteArchiver buffers quotes and closed trades and writes them to object
// storage as JSONL files partitioned by day:
//
//	archive/quotes/2025-01-02/150405.000-000001.jsonl
//	archive/trades/2025-01-02/150405.000-000002.jsonl
//
// It is a telemetry recorder; signals are not archived because the signal
// store already keeps them.
type QuoteArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	cfg    ArchiverConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	quotes []domain.Quote
	trades []domain.Trade
	seq    uint64
}

// NewArchiver creates a QuoteArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, cfg ArchiverConfig, logger *slog.Logger) *QuoteArchiver {
	def := DefaultArchiverConfig()
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &QuoteArchiver{
		writer: writer,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "s3_archiver")),
		now:    time.Now,
	}
}

// Name identifies the archiver among telemetry recorders.
func (a *QuoteArchiver) Name() string { return "s3_archive" }

// RecordQuotes buffers quotes and uploads them once MaxRows is reached.
func (a *QuoteArchiver) RecordQuotes(ctx context.Context, quotes []domain.Quote) error {
	a.mu.Lock()
	a.quotes = append(a.quotes, quotes...)
	var batch []domain.Quote
	if len(a.quotes) >= a.cfg.MaxRows {
		batch, a.quotes = a.quotes, nil
	}
	a.mu.Unlock()

	if batch == nil {
		return nil
	}
	return archive(ctx, a, "quotes", batch)
}

// RecordSignal is a no-op.
func (a *QuoteArchiver) RecordSignal(context.Context, domain.Signal) error { return nil }

// RecordTrade buffers trades that have reached a terminal status.
func (a *QuoteArchiver) RecordTrade(ctx context.Context, t domain.Trade) error {
	if !t.Status.Terminal() {
		return nil
	}
	a.mu.Lock()
	a.trades = append(a.trades, t)
	var batch []domain.Trade
	if len(a.trades) >= a.cfg.MaxRows {
		batch, a.trades = a.trades, nil
	}
	a.mu.Unlock()

	if batch == nil {
		return nil
	}
	return archive(ctx, a, "trades", batch)
}

// Flush uploads everything buffered.
func (a *QuoteArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	quotes, trades := a.quotes, a.trades
	a.quotes, a.trades = nil, nil
	a.mu.Unlock()

	var firstErr error
	if len(quotes) > 0 {
		firstErr = archive(ctx, a, "quotes", quotes)
	}
	if len(trades) > 0 {
		if err := archive(ctx, a, "trades", trades); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run flushes on FlushInterval until ctx is cancelled, then flushes once
// more with a detached context.
func (a *QuoteArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final archive flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Warn("archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Buffered returns the number of buffered quotes and trades.
func (a *QuoteArchiver) Buffered() (quotes, trades int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.quotes), len(a.trades)
}

func archive[T any](ctx context.Context, a *QuoteArchiver, kind string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	path := archivePath(kind, a.now(), seq)
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	a.logger.Debug("archived records",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int("count", len(records)),
	)

	if a.audit == nil {
		return nil
	}
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":  path,
		"count": len(records),
		"bytes": len(buf),
	}); err != nil {
		return fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return nil
}

// archivePath builds the object key for an archive file, partitioned by the
// UTC day of the upload.
func archivePath(kind string, at time.Time, seq uint64) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%06d.jsonl", kind, at.Format("2006-01-02"), at.Format("150405.000"), seq)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
