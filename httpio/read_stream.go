package httpio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// ReadStream is the body of one GET exchange.
type ReadStream struct {
	resp   *http.Response
	body   io.ReadCloser
	cancel context.CancelFunc

	n       atomic.Int64
	err     error
	closeMu sync.Once
}

// Read reads decoded body bytes. Any failure other than io.EOF is wrapped
// with ErrTransport and is sticky.
func (s *ReadStream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.body.Read(p)
	s.n.Add(int64(n))
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = fmt.Errorf("%w: %w", ErrTransport, err)
		return n, s.err
	}
	return n, err
}

// Err returns the sticky transport failure seen by Read, if any. Decoders
// that swallow reader errors can be classified with it.
func (s *ReadStream) Err() error { return s.err }

func (s *ReadStream) StatusCode() int     { return s.resp.StatusCode }
func (s *ReadStream) Header() http.Header { return s.resp.Header }

// BytesRead reports decoded bytes handed to readers so far.
func (s *ReadStream) BytesRead() int64 { return s.n.Load() }

// Close cancels the exchange and drops the connection without draining
// the remaining body. It may be called from another goroutine to unblock a
// pending Read.
func (s *ReadStream) Close() error {
	s.closeMu.Do(func() {
		s.cancel()
		_ = s.body.Close()
		_ = s.resp.Body.Close()
	})
	return nil
}
