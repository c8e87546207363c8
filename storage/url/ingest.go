package url

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"urltable/format"
	"urltable/httpio"
	"urltable/internal/logging"
	"urltable/internal/telemetry"
	"urltable/storage"
)

type ingestState int

const (
	ingestUnopened ingestState = iota
	ingestOpened
	ingestStreaming
	ingestDrained
	ingestSuffixRead
	ingestFailed
	ingestClosed
)

func (s ingestState) String() string {
	return [...]string{"unopened", "opened", "streaming", "drained", "suffix read", "failed", "closed"}[s]
}

// IngestStream pulls one remote resource through a decoder. The GET is
// issued by Open, decoding happens one batch per Next call.
type IngestStream struct {
	desc      *storage.Descriptor
	client    *httpio.Client
	mem       memory.Allocator
	batchSize int
	query     storage.QueryInfo

	mu    sync.Mutex
	state ingestState
	body  *httpio.ReadStream
	dec   format.Decoder
	rows  int64

	cmu    sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func newIngestStream(desc *storage.Descriptor, client *httpio.Client, mem memory.Allocator, batchSize int, q storage.QueryInfo) *IngestStream {
	return &IngestStream{desc: desc, client: client, mem: mem, batchSize: batchSize, query: q}
}

func (in *IngestStream) Name() string          { return in.desc.Name() }
func (in *IngestStream) Header() *arrow.Schema { return in.desc.Schema() }

func (in *IngestStream) contract(op, msg string, args ...any) error {
	return in.desc.Errorf(storage.ErrContract, op, fmt.Errorf(msg, args...))
}

// Open issues the GET and binds the response body to a decoder for the
// declared schema. The decoder reads nothing yet.
func (in *IngestStream) Open(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != ingestUnopened {
		return in.contract("open", "stream is %s", in.state)
	}
	in.cmu.Lock()
	if in.closed {
		in.cmu.Unlock()
		return in.contract("open", "stream is closed")
	}
	ctx, in.cancel = context.WithCancel(ctx)
	in.cmu.Unlock()

	body, err := in.client.OpenGet(ctx, in.desc.Address())
	if err != nil {
		in.state = ingestFailed
		telemetry.Exchanges.WithLabelValues(http.MethodGet, telemetry.OutcomeConnection).Inc()
		return in.desc.Errorf(storage.ErrConnection, "open", err)
	}
	dec, err := format.NewDecoder(in.desc.Format(), body, in.desc.Schema(), format.Options{Allocator: in.mem, BatchSize: in.batchSize})
	if err != nil {
		_ = body.Close()
		in.state = ingestFailed
		telemetry.Exchanges.WithLabelValues(http.MethodGet, telemetry.OutcomeCodec).Inc()
		return in.desc.Errorf(storage.ErrCodec, "open", err)
	}
	in.body, in.dec = body, dec
	in.state = ingestOpened
	logging.L().Debug("ingest opened", "table", in.desc.Name(), "address", in.desc.Address().Redacted(), "format", in.desc.Format(), "query_id", in.query.ID)
	return nil
}

// ReadPrefix consumes the format prolog (header line, schema message).
func (in *IngestStream) ReadPrefix() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != ingestOpened {
		return in.contract("read prefix", "stream is %s", in.state)
	}
	if err := in.dec.ReadPrefix(); err != nil {
		return in.fail("read prefix", err)
	}
	in.state = ingestStreaming
	return nil
}

// Next returns the next non-empty batch, or io.EOF once the body is
// exhausted. io.EOF repeats until ReadSuffix.
func (in *IngestStream) Next() (arrow.Record, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	switch in.state {
	case ingestStreaming:
	case ingestDrained:
		return nil, io.EOF
	default:
		return nil, in.contract("next", "stream is %s", in.state)
	}

	for {
		rec, err := in.dec.Read()
		if errors.Is(err, io.EOF) {
			in.state = ingestDrained
			return nil, io.EOF
		}
		if err != nil {
			return nil, in.fail("next", err)
		}
		if rec.NumRows() == 0 {
			rec.Release()
			continue
		}
		in.rows += rec.NumRows()
		telemetry.ObserveBatch(telemetry.In, rec.NumRows())
		return rec, nil
	}
}

// ReadSuffix consumes the format epilog. Called before end-of-data it
// stops the read early, and the exchange is counted as aborted.
func (in *IngestStream) ReadSuffix() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != ingestStreaming && in.state != ingestDrained {
		return in.contract("read suffix", "stream is %s", in.state)
	}
	if err := in.dec.ReadSuffix(); err != nil {
		return in.fail("read suffix", err)
	}
	outcome := telemetry.OutcomeOK
	if in.state == ingestStreaming {
		outcome = telemetry.OutcomeAborted
	}
	in.state = ingestSuffixRead
	telemetry.Exchanges.WithLabelValues(http.MethodGet, outcome).Inc()
	logging.L().Debug("ingest finished", "table", in.desc.Name(), "rows", in.rows, "bytes", in.body.BytesRead())
	return nil
}

// Close releases the response body and the decoder. It never drains the
// body, is idempotent, and may be called from another goroutine to cut
// short a blocked Open or Next.
func (in *IngestStream) Close() error {
	in.cmu.Lock()
	if in.closed {
		in.cmu.Unlock()
		return nil
	}
	in.closed = true
	if in.cancel != nil {
		in.cancel()
	}
	in.cmu.Unlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.dec != nil {
		in.dec.Release()
		in.dec = nil
	}
	if in.body != nil {
		_ = in.body.Close()
		telemetry.Bytes.WithLabelValues(telemetry.In).Add(float64(in.body.BytesRead()))
	}
	switch in.state {
	case ingestOpened, ingestStreaming, ingestDrained:
		telemetry.Exchanges.WithLabelValues(http.MethodGet, telemetry.OutcomeAborted).Inc()
		logging.L().Debug("ingest abandoned", "table", in.desc.Name(), "state", in.state.String(), "rows", in.rows)
	}
	in.state = ingestClosed
	return nil
}

func (in *IngestStream) fail(op string, err error) error {
	in.state = ingestFailed
	kind, outcome := storage.ErrCodec, telemetry.OutcomeCodec
	switch {
	case errors.Is(err, httpio.ErrTransport):
		kind, outcome = storage.ErrTransport, telemetry.OutcomeTransport
	case in.body != nil && in.body.Err() != nil:
		// the decoder hit a broken body but reported only its own error
		kind, outcome = storage.ErrTransport, telemetry.OutcomeTransport
		err = fmt.Errorf("%w: %w", in.body.Err(), err)
	}
	telemetry.Exchanges.WithLabelValues(http.MethodGet, outcome).Inc()
	return in.desc.Errorf(kind, op, err)
}
