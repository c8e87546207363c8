// Package httpio is the byte transport behind URL tables: one GET or one
// streamed POST per exchange, each bounded by connect, send and receive
// timeouts.
package httpio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"time"
)

const defaultUserAgent = "urltable/1"

// Config describes how a Client talks to remote resources.
type Config struct {
	Timeouts    Timeouts          `koanf:"timeouts"`
	Headers     map[string]string `koanf:"headers"`
	UserAgent   string            `koanf:"user_agent"`
	Compression string            `koanf:"compression"` // request body: none|gzip|br|zstd
	Auth        Auth              `koanf:"auth"`
}

func (c Config) Validate() error {
	switch c.Compression {
	case "", "none", "gzip", "br", "zstd":
	default:
		return fmt.Errorf("unsupported compression %q", c.Compression)
	}
	return c.Auth.validate()
}

func (c Config) IsZero() bool {
	return c.Timeouts.IsZero() && len(c.Headers) == 0 && c.UserAgent == "" &&
		c.Compression == "" && c.Auth.Type == ""
}

// Client opens exchanges. It is safe for concurrent use; every exchange it
// opens belongs to a single caller.
type Client struct {
	cfg Config
	hc  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         newDialer(cfg.Timeouts).DialContext,
		TLSHandshakeTimeout: cfg.Timeouts.Connect,
		DisableCompression:  true,
		MaxIdleConns:        64,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Transport: cfg.Auth.wrap(tr)},
	}, nil
}

func (c *Client) Timeouts() Timeouts { return c.cfg.Timeouts }

// CloseIdleConnections drops pooled keep-alive connections.
func (c *Client) CloseIdleConnections() { c.hc.CloseIdleConnections() }

func (c *Client) decorate(req *http.Request) {
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
}

// OpenGet issues a GET and returns once the response headers arrived with a
// 2xx status. The returned stream decodes any Content-Encoding.
func (c *Client) OpenGet(ctx context.Context, u *url.URL) (*ReadStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	c.decorate(req)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := c.hc.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if !ok(resp.StatusCode) {
		serr := newStatusError(resp)
		_ = resp.Body.Close()
		cancel()
		return nil, serr
	}
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return nil, err
	}
	return &ReadStream{resp: resp, body: body, cancel: cancel}, nil
}

// OpenPost starts a chunked POST whose body is fed by writes to the
// returned stream. It returns once a connection to the remote is
// established, so dial and handshake failures are reported here.
func (c *Client) OpenPost(ctx context.Context, u *url.URL, contentType string) (*WriteStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	connected := make(chan struct{})
	var once sync.Once
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { once.Do(func() { close(connected) }) },
	})

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), pr)
	if err != nil {
		cancel()
		return nil, err
	}
	req.ContentLength = -1
	c.decorate(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if m := c.cfg.Compression; m != "" && m != "none" {
		req.Header.Set("Content-Encoding", m)
	}
	enc, err := encodeBody(c.cfg.Compression, pw)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &WriteStream{pw: pw, body: enc, cancel: cancel, done: make(chan struct{})}
	go s.exchange(c.hc, req, pr)

	select {
	case <-connected:
	case <-s.done:
		if s.err != nil {
			_ = enc.Close()
			cancel()
			return nil, s.err
		}
	}
	return s, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("httpio.Client{timeouts: %+v, compression: %q}", c.cfg.Timeouts, c.cfg.Compression)
}
