package httpio

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrTransport tags failures of an already open exchange: a body read or
// write that failed or timed out, or a finalize that was not acknowledged.
var ErrTransport = errors.New("http transport")

var errAborted = errors.New("request body aborted")

const maxErrorBody = 4 << 10

// StatusError is returned when the remote answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %s", e.Method, e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func newStatusError(resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: resp.Request.Method,
		URL:    redact(resp.Request.URL.String()),
		Code:   resp.StatusCode,
		Status: resp.Status,
		Body:   strings.TrimSpace(string(b)),
	}
}

func ok(code int) bool { return code >= 200 && code < 300 }

// redact hides userinfo so credentials never reach logs or error text.
func redact(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if at := strings.Index(rest, "@"); at >= 0 && !strings.ContainsAny(rest[:at], "/?#") {
			return raw[:i+3] + "xxxxx@" + rest[at+1:]
		}
	}
	return raw
}
