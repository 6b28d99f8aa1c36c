// Package batch runs a row predictor over many rows.
//
// Rows are read lazily in chunks. Each chunk is evaluated in parallel and its
// records are yielded in input order, so the output sequence always has one
// record per input row at the same position. A row that fails, or whose
// predictor panics, yields an error record instead of stopping the batch.
package batch

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/core/parallel"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
)

const (
	defaultChunkSize           = 256
	defaultSequentialThreshold = 32
)

// Driver evaluates rows against one predictor. It holds no per-run state and
// may be used for several runs at once.
type Driver struct {
	predictor           core.RowPredictor
	workers             int
	chunkSize           int
	sequentialThreshold int
	cacheSize           int
	cache               *lru.Cache[string, core.Record]
	logger              log.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithWorkers sets the number of goroutines per chunk. Defaults to the CPU count.
func WithWorkers(n int) Option {
	return func(d *Driver) { d.workers = n }
}

// WithChunkSize sets how many rows are read and evaluated together.
func WithChunkSize(n int) Option {
	return func(d *Driver) { d.chunkSize = n }
}

// WithSequentialThreshold evaluates chunks of at most n rows on the calling goroutine.
func WithSequentialThreshold(n int) Option {
	return func(d *Driver) { d.sequentialThreshold = n }
}

// WithCache memoizes up to n records keyed by row content. Zero disables it.
func WithCache(n int) Option {
	return func(d *Driver) { d.cacheSize = n }
}

// WithLogger sets the logger. The package default is used otherwise.
func WithLogger(l log.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// New returns a driver for p.
func New(p core.RowPredictor, opts ...Option) (*Driver, error) {
	if p == nil {
		return nil, errors.NewValidationError("predictor", "predictor is required", nil)
	}
	d := &Driver{
		predictor:           p,
		workers:             runtime.NumCPU(),
		chunkSize:           defaultChunkSize,
		sequentialThreshold: defaultSequentialThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		return nil, errors.NewValidationError("workers", "must be positive", d.workers)
	}
	if d.chunkSize <= 0 {
		return nil, errors.NewValidationError("chunk_size", "must be positive", d.chunkSize)
	}
	if d.cacheSize < 0 {
		return nil, errors.NewValidationError("cache_size", "must not be negative", d.cacheSize)
	}
	if d.cacheSize > 0 {
		cache, err := lru.New[string, core.Record](d.cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "create row cache")
		}
		d.cache = cache
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	d.logger = d.logger.With(log.ComponentKey, "batch")
	return d, nil
}

// PredictSeq returns the records for rows, in order. The sequence can be
// ranged over again if rows can; every pass is a new run. Cancelling ctx stops
// the run before the next chunk; rows already being evaluated finish first.
func (d *Driver) PredictSeq(ctx context.Context, rows iter.Seq[core.Row]) iter.Seq[core.Record] {
	return func(yield func(core.Record) bool) {
		r := d.newRun()
		defer r.finish()

		chunk := make([]core.Row, 0, d.chunkSize)
		out := make([]core.Record, d.chunkSize)
		index := 0

		// flush evaluates and yields the pending chunk; false stops the run.
		flush := func() bool {
			if len(chunk) == 0 {
				return true
			}
			if err := ctx.Err(); err != nil {
				r.cancelled(err)
				return false
			}
			recs := out[:len(chunk)]
			parallel.ParallelizeWithThreshold(len(chunk), d.sequentialThreshold, d.workers, func(start, end int) {
				for i := start; i < end; i++ {
					recs[i] = d.evaluate(r, index+i, chunk[i])
				}
			})
			index += len(chunk)
			chunk = chunk[:0]
			for _, rec := range recs {
				if !yield(rec) {
					return false
				}
			}
			return true
		}

		for row := range rows {
			chunk = append(chunk, row)
			if len(chunk) == d.chunkSize && !flush() {
				return
			}
		}
		flush()
	}
}

// PredictAll is PredictSeq over a slice.
func (d *Driver) PredictAll(ctx context.Context, rows []core.Row) iter.Seq[core.Record] {
	return d.PredictSeq(ctx, slices.Values(rows))
}

// Collect drains a record sequence into a slice.
func Collect(records iter.Seq[core.Record]) []core.Record {
	return slices.Collect(records)
}

func (d *Driver) evaluate(r *run, index int, row core.Row) core.Record {
	r.rows.Add(1)

	var key string
	if d.cache != nil {
		key = cacheKey(row)
		if rec, ok := d.cache.Get(key); ok {
			r.hits.Add(1)
			if rec.Failed() {
				r.failed.Add(1)
			}
			rec.Index = index
			return rec
		}
	}

	rec, err := d.predict(row)
	if err != nil {
		rec = core.ErrorRecord(index, err)
		r.failed.Add(1)
		if d.logger.Enabled(context.Background(), log.LevelDebug) {
			d.logger.Debug("row failed", err, log.RunIDKey, r.id, log.RowIndexKey, index)
		}
	}
	if d.cache != nil {
		d.cache.Add(key, rec)
	}
	rec.Index = index
	return rec
}

func (d *Driver) predict(row core.Row) (rec core.Record, err error) {
	defer errors.Recover(&err, "batch row")
	return d.predictor.PredictRow(row)
}

// cacheKey renders a row with sorted keys and typed values.
func cacheKey(row core.Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%q=%T:%v;", k, row[k], row[k])
	}
	return b.String()
}

type run struct {
	d      *Driver
	id     string
	start  time.Time
	rows   atomic.Int64
	failed atomic.Int64
	hits   atomic.Int64
}

func (d *Driver) newRun() *run {
	r := &run{d: d, id: uuid.NewString(), start: time.Now()}
	d.logger.Debug("batch started",
		log.RunIDKey, r.id,
		log.OperationKey, log.OperationPredict,
		log.WorkersKey, d.workers,
		log.ChunkSizeKey, d.chunkSize,
	)
	return r
}

func (r *run) cancelled(err error) {
	r.d.logger.Warn("batch cancelled",
		err,
		log.RunIDKey, r.id,
		log.RowsKey, r.rows.Load(),
	)
}

func (r *run) finish() {
	r.d.logger.Info("batch finished",
		log.RunIDKey, r.id,
		log.OperationKey, log.OperationPredict,
		log.RowsKey, r.rows.Load(),
		log.FailedRowsKey, r.failed.Load(),
		log.CacheHitsKey, r.hits.Load(),
		log.DurationMsKey, time.Since(r.start).Milliseconds(),
	)
}
