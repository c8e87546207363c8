package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/errgroup"

	"urltable/internal/logging"
	"urltable/internal/telemetry"
	"urltable/sink"
	"urltable/storage"
)

type namedSink struct {
	kind string
	sink.Adapter
}

// Stats summarizes one completed copy.
type Stats struct {
	Batches  int64
	Rows     int64
	Duration time.Duration
}

// Runner copies one source table into every configured sink.
type Runner struct {
	source    storage.Storage
	sinks     []namedSink
	batchSize int
	query     storage.QueryInfo
}

func NewRunner() *Runner { return &Runner{} }

func (r *Runner) SetSource(s storage.Storage)  { r.source = s }
func (r *Runner) SetBatchSize(n int)           { r.batchSize = n }
func (r *Runner) SetQuery(q storage.QueryInfo) { r.query = q }

func (r *Runner) AddSink(kind string, s sink.Adapter) {
	r.sinks = append(r.sinks, namedSink{kind: kind, Adapter: s})
}

// Run reads the source once, fanning every batch out to all sinks
// concurrently. Sinks are flushed only after the source suffix was read;
// on any error every sink is closed without a flush.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var st Stats
	if r.source == nil {
		return st, errors.New("runner: no source configured")
	}
	if len(r.sinks) == 0 {
		return st, errors.New("runner: no sinks configured")
	}
	start := time.Now()

	streams, err := r.source.Read(ctx, nil, r.query, storage.StageFetchColumns, r.batchSize, 1)
	if err != nil {
		return st, err
	}
	defer func() {
		for _, in := range streams {
			_ = in.Close()
		}
	}()
	in := streams[0]
	if err := in.Open(ctx); err != nil {
		return st, err
	}

	defer r.closeSinks()
	for _, s := range r.sinks {
		if err := s.Open(ctx, in.Header()); err != nil {
			return st, fmt.Errorf("sink %s: open: %w", s.kind, err)
		}
	}

	if err := in.ReadPrefix(); err != nil {
		return st, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		rec, err := in.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		err = r.fanOut(ctx, rec)
		st.Batches++
		st.Rows += rec.NumRows()
		rec.Release()
		if err != nil {
			return st, err
		}
	}
	if err := in.ReadSuffix(); err != nil {
		return st, err
	}

	g, _ := errgroup.WithContext(ctx)
	for _, s := range r.sinks {
		g.Go(func() error {
			if err := s.Flush(); err != nil {
				return fmt.Errorf("sink %s: flush: %w", s.kind, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}
	st.Duration = time.Since(start)
	logging.L().Info("copy finished", "table", in.Name(), "batches", st.Batches, "rows", st.Rows, "duration", st.Duration)
	return st, nil
}

/*──────── batch routing ───────*/
func (r *Runner) fanOut(ctx context.Context, rec arrow.Record) error {
	g, _ := errgroup.WithContext(ctx)
	for _, s := range r.sinks {
		g.Go(func() error {
			if err := s.Push(rec); err != nil {
				telemetry.SinkPushes.WithLabelValues(s.kind, "error").Inc()
				return fmt.Errorf("sink %s: push: %w", s.kind, err)
			}
			telemetry.SinkPushes.WithLabelValues(s.kind, "ok").Inc()
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) closeSinks() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			logging.L().Warn("sink close failed", "sink", s.kind, "err", err)
		}
	}
}
