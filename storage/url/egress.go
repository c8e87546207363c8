package url

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"urltable/format"
	"urltable/httpio"
	"urltable/internal/logging"
	"urltable/internal/telemetry"
	"urltable/storage"
)

type egressState int

const (
	egressUnopened egressState = iota
	egressOpened
	egressWriting
	egressFinalized
	egressFailed
	egressClosed
)

func (s egressState) String() string {
	return [...]string{"unopened", "opened", "writing", "finalized", "failed", "closed"}[s]
}

// EgressStream encodes pushed batches straight into the body of one POST.
// The remote write is finalized by WriteSuffix and by nothing else.
type EgressStream struct {
	desc       *storage.Descriptor
	client     *httpio.Client
	ownsClient bool
	mem        memory.Allocator
	query      storage.QueryInfo

	state   egressState
	body    *httpio.WriteStream
	enc     format.Encoder
	batches int64
	rows    int64
}

func newEgressStream(desc *storage.Descriptor, client *httpio.Client, owns bool, mem memory.Allocator, q storage.QueryInfo) *EgressStream {
	return &EgressStream{desc: desc, client: client, ownsClient: owns, mem: mem, query: q}
}

func (out *EgressStream) Header() *arrow.Schema { return out.desc.Schema() }

func (out *EgressStream) contract(op, msg string, args ...any) error {
	return out.desc.Errorf(storage.ErrContract, op, fmt.Errorf(msg, args...))
}

// Open starts the POST and binds an encoder to its body. It returns once
// the remote accepted the connection.
func (out *EgressStream) Open(ctx context.Context) error {
	if out.state != egressUnopened {
		return out.contract("open", "stream is %s", out.state)
	}
	codec, err := format.Lookup(out.desc.Format())
	if err != nil {
		out.state = egressFailed
		return out.desc.Errorf(storage.ErrConfig, "open", err)
	}
	body, err := out.client.OpenPost(ctx, out.desc.Address(), codec.ContentType())
	if err != nil {
		out.state = egressFailed
		telemetry.Exchanges.WithLabelValues(http.MethodPost, telemetry.OutcomeConnection).Inc()
		return out.desc.Errorf(storage.ErrConnection, "open", err)
	}
	enc, err := codec.NewEncoder(body, out.desc.Schema(), format.Options{Allocator: out.mem})
	if err != nil {
		body.Abort(err)
		out.state = egressFailed
		telemetry.Exchanges.WithLabelValues(http.MethodPost, telemetry.OutcomeCodec).Inc()
		return out.desc.Errorf(storage.ErrCodec, "open", err)
	}
	out.body, out.enc = body, enc
	out.state = egressOpened
	logging.L().Debug("egress opened", "table", out.desc.Name(), "address", out.desc.Address().Redacted(), "format", out.desc.Format(), "query_id", out.query.ID)
	return nil
}

func (out *EgressStream) WritePrefix() error {
	if out.state != egressOpened {
		return out.contract("write prefix", "stream is %s", out.state)
	}
	if err := out.enc.WritePrefix(); err != nil {
		return out.fail("write prefix", err)
	}
	out.state = egressWriting
	return nil
}

// Write encodes rec into the request body. A batch whose columns do not
// match the table is rejected without touching the body, and the stream
// stays usable.
func (out *EgressStream) Write(rec arrow.Record) error {
	if out.state != egressWriting {
		return out.contract("write", "stream is %s", out.state)
	}
	if rec == nil {
		return out.contract("write", "nil batch")
	}
	if err := format.CheckSchema(out.desc.Schema(), rec.Schema()); err != nil {
		return out.desc.Errorf(storage.ErrCodec, "write", err)
	}
	if err := out.enc.Write(rec); err != nil {
		return out.fail("write", err)
	}
	out.batches++
	out.rows += rec.NumRows()
	telemetry.ObserveBatch(telemetry.Out, rec.NumRows())
	return nil
}

// WriteSuffix writes the format epilog, flushes the encoder and finalizes
// the exchange: the body is completed and only a 2xx answer counts as a
// successful write. The exchange is released whatever the outcome.
func (out *EgressStream) WriteSuffix() error {
	switch out.state {
	case egressWriting:
	case egressFinalized:
		return out.contract("write suffix", "write already finalized")
	case egressFailed:
		return out.contract("write suffix", "write already failed")
	default:
		return out.contract("write suffix", "stream is %s", out.state)
	}

	err := out.enc.WriteSuffix()
	if err == nil {
		err = out.enc.Flush()
	}
	if err != nil {
		return out.fail("write suffix", err)
	}
	if err := out.body.Finalize(); err != nil {
		return out.fail("finalize", err)
	}
	out.state = egressFinalized
	out.release()
	telemetry.Exchanges.WithLabelValues(http.MethodPost, telemetry.OutcomeOK).Inc()
	logging.L().Debug("egress finalized", "table", out.desc.Name(), "batches", out.batches, "rows", out.rows, "bytes", out.body.BytesWritten(), "status", out.body.StatusCode())
	return nil
}

// Close abandons an unfinished write: the request body is broken off so
// the remote never sees a complete upload. Close is idempotent.
func (out *EgressStream) Close() error {
	switch out.state {
	case egressClosed:
		return nil
	case egressOpened, egressWriting:
		out.body.Abort(nil)
		out.release()
		telemetry.Exchanges.WithLabelValues(http.MethodPost, telemetry.OutcomeAborted).Inc()
		logging.L().Warn("egress abandoned before finalize", "table", out.desc.Name(), "batches", out.batches, "rows", out.rows)
	}
	out.state = egressClosed
	return nil
}

// fail aborts the exchange and moves the stream to failed.
func (out *EgressStream) fail(op string, err error) error {
	out.state = egressFailed
	out.body.Abort(err)
	out.release()

	kind, outcome := storage.ErrCodec, telemetry.OutcomeCodec
	if errors.Is(err, httpio.ErrTransport) {
		kind, outcome = storage.ErrTransport, telemetry.OutcomeTransport
	}
	telemetry.Exchanges.WithLabelValues(http.MethodPost, outcome).Inc()
	logging.L().Warn("egress failed", "table", out.desc.Name(), "op", op, "err", err)
	return out.desc.Errorf(kind, op, err)
}

func (out *EgressStream) release() {
	if out.body != nil {
		_ = out.body.Close()
		telemetry.Bytes.WithLabelValues(telemetry.Out).Add(float64(out.body.BytesWritten()))
	}
	if out.ownsClient {
		out.client.CloseIdleConnections()
	}
}
