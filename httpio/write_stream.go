package httpio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	errEarlyResponse = errors.New("remote responded before the request body was complete")
	errFinished      = errors.New("exchange already finished")
)

// WriteStream is the body of one streamed POST exchange.
type WriteStream struct {
	pw     *io.PipeWriter
	body   io.WriteCloser
	cancel context.CancelFunc

	done   chan struct{}
	err    error // set by exchange before done is closed
	status int

	n        atomic.Int64
	finished bool
	closed   bool
}

func (s *WriteStream) exchange(hc *http.Client, req *http.Request, pr *io.PipeReader) {
	defer close(s.done)
	resp, err := hc.Do(req)
	if err != nil {
		s.err = err
		_ = pr.CloseWithError(err)
		return
	}
	defer resp.Body.Close()
	_ = pr.CloseWithError(errEarlyResponse)

	if !ok(resp.StatusCode) {
		s.err = newStatusError(resp)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	s.status = resp.StatusCode
}

// Write sends p as part of the request body. Failures are wrapped with
// ErrTransport. The pipe only breaks once the exchange is ending, so a
// failed write waits for it and reports its cause (a *StatusError from an
// early answer, a send timeout) instead of the bare pipe error.
func (s *WriteStream) Write(p []byte) (int, error) {
	if s.finished {
		return 0, fmt.Errorf("%w: %w", ErrTransport, errFinished)
	}
	n, err := s.body.Write(p)
	s.n.Add(int64(n))
	if err != nil {
		<-s.done
		if s.err != nil {
			return n, fmt.Errorf("%w: %w", ErrTransport, s.err)
		}
		return n, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return n, nil
}

// BytesWritten reports body bytes accepted so far, before compression.
func (s *WriteStream) BytesWritten() int64 { return s.n.Load() }

// Finalize completes the request body and waits for the response. Only a
// 2xx answer counts as success. It may be called once.
func (s *WriteStream) Finalize() error {
	if s.finished {
		return fmt.Errorf("%w: %w", ErrTransport, errFinished)
	}
	s.finished = true
	defer s.cancel()

	if err := s.body.Close(); err != nil {
		_ = s.pw.CloseWithError(err)
		<-s.done
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	_ = s.pw.Close()
	<-s.done
	if s.err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, s.err)
	}
	return nil
}

// StatusCode is the response status once Finalize succeeded.
func (s *WriteStream) StatusCode() int { return s.status }

// Abort breaks the request body so the remote never receives a complete
// upload, then waits for the exchange to wind down.
func (s *WriteStream) Abort(cause error) {
	if s.finished {
		return
	}
	s.finished = true
	if cause == nil {
		cause = errAborted
	}
	_ = s.pw.CloseWithError(cause)
	_ = s.body.Close()
	s.cancel()
	<-s.done
}

// Close aborts an unfinished exchange. It is idempotent.
func (s *WriteStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.Abort(nil)
	s.cancel()
	return nil
}
