// Package directory supplies the candidate pool for matching.
//
// A Directory fronts one record-store Source with a process-wide snapshot
// cache. The snapshot is populated lazily on first access and written at most
// once per invalidation epoch. Invalidation is always triggered from outside
// (admin endpoint, MCP tool, or the App's refresh loop).
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/telemetry"
)

// ErrEmptyPool is returned when the record store yields no usable candidates.
var ErrEmptyPool = errors.New("directory: no usable candidates")

// DefaultMaxRecords caps the pool size when none is configured.
const DefaultMaxRecords = 100

// fetchTimeout bounds one shared fetch. The fetch is detached from any single
// caller so that one cancelled request does not fail the others waiting on it.
const fetchTimeout = 30 * time.Second

// Source is a record store that can list candidate experts.
type Source interface {
	ListCandidates(ctx context.Context) ([]model.Candidate, error)
	Name() string
}

// Directory caches the candidate pool from a Source.
type Directory struct {
	source     Source
	maxRecords int
	logger     *slog.Logger

	mu        sync.RWMutex
	populated bool
	pool      model.CandidatePool
	epoch     uint64
	fetchedAt time.Time

	group   singleflight.Group
	fetches metric.Int64Counter
	tracer  trace.Tracer
}

// New creates a Directory over source. maxRecords <= 0 uses DefaultMaxRecords.
func New(source Source, maxRecords int, logger *slog.Logger) *Directory {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	d := &Directory{
		source:     source,
		maxRecords: maxRecords,
		logger:     logger,
		tracer:     telemetry.Tracer("guidematch/directory"),
	}
	var err error
	d.fetches, err = telemetry.Meter("guidematch/directory").Int64Counter("guidematch.directory.fetches",
		metric.WithDescription("Candidate pool reads by result (hit, miss, error)"),
	)
	if err != nil {
		logger.Warn("directory: failed to create fetch counter", "error", err)
	}
	return d
}

// Pool returns the cached snapshot, fetching it from the source on the first
// call of each epoch. It never returns an empty pool without an error; every
// failure is classified as a database_error and is not retried here.
func (d *Directory) Pool(ctx context.Context) (model.CandidatePool, error) {
	d.mu.RLock()
	if d.populated {
		pool := d.pool
		d.mu.RUnlock()
		d.count(ctx, "hit")
		return pool, nil
	}
	epoch := d.epoch
	d.mu.RUnlock()

	ch := d.group.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return d.fetch(fetchCtx, epoch)
	})

	select {
	case <-ctx.Done():
		d.count(ctx, "error")
		return model.CandidatePool{}, model.WrapError(model.KindDatabase, "candidate directory fetch abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			d.count(ctx, "error")
			return model.CandidatePool{}, res.Err
		}
		d.count(ctx, "miss")
		return res.Val.(model.CandidatePool), nil
	}
}

func (d *Directory) fetch(ctx context.Context, epoch uint64) (model.CandidatePool, error) {
	ctx, span := d.tracer.Start(ctx, "directory.fetch",
		trace.WithAttributes(attribute.String("directory.source", d.source.Name())))
	defer span.End()

	start := time.Now()
	records, err := d.source.ListCandidates(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")
		d.logger.Error("directory: fetch failed", "source", d.source.Name(), "error", err)
		return model.CandidatePool{}, model.WrapError(model.KindDatabase, "candidate directory unavailable", err)
	}

	pool := model.NewCandidatePool(records)
	if pool.Len() > d.maxRecords {
		pool = model.NewCandidatePool(pool.Candidates()[:d.maxRecords])
	}
	if pool.Len() == 0 {
		span.SetStatus(codes.Error, "empty pool")
		d.logger.Error("directory: source returned no usable candidates", "source", d.source.Name(), "records", len(records))
		return model.CandidatePool{}, model.WrapError(model.KindDatabase, "candidate directory is empty", ErrEmptyPool)
	}
	span.SetAttributes(attribute.Int("directory.size", pool.Len()))

	d.mu.Lock()
	// An Invalidate during the fetch moves the epoch on; the stale result is
	// still returned to its waiters but never cached.
	if !d.populated && d.epoch == epoch {
		d.pool = pool
		d.populated = true
		d.fetchedAt = time.Now()
	}
	d.mu.Unlock()

	d.logger.Info("directory: pool loaded",
		"source", d.source.Name(),
		"size", pool.Len(),
		"dropped", len(records)-pool.Len(),
		"epoch", epoch,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pool, nil
}

// Invalidate drops the snapshot and starts a new epoch. The next Pool call
// fetches from the source again. Returns the new epoch.
func (d *Directory) Invalidate() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	d.populated = false
	d.pool = model.CandidatePool{}
	d.fetchedAt = time.Time{}
	d.logger.Info("directory: invalidated", "epoch", d.epoch)
	return d.epoch
}

// Status reports the cache state without triggering a fetch.
func (d *Directory) Status() model.DirectoryStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := model.DirectoryStatus{
		Backend:   d.source.Name(),
		Populated: d.populated,
		Size:      d.pool.Len(),
		Epoch:     d.epoch,
	}
	if d.populated {
		t := d.fetchedAt
		st.FetchedAt = &t
	}
	return st
}

// Lookup resolves one candidate from the current snapshot, fetching it if needed.
func (d *Directory) Lookup(ctx context.Context, id string) (model.Candidate, error) {
	pool, err := d.Pool(ctx)
	if err != nil {
		return model.Candidate{}, err
	}
	c, ok := pool.Lookup(id)
	if !ok {
		return model.Candidate{}, fmt.Errorf("directory: candidate %q: %w", id, ErrNotFound)
	}
	return c, nil
}

// ErrNotFound is returned by Lookup for an id outside the snapshot.
var ErrNotFound = errors.New("directory: candidate not found")

func (d *Directory) count(ctx context.Context, result string) {
	if d.fetches != nil {
		d.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}
