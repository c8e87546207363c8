package httpio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func compress(t *testing.T, method string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := encodeBody(method, &buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func decompress(t *testing.T, method string, r io.Reader) []byte {
	t.Helper()
	var rd io.Reader
	switch method {
	case "gzip":
		g, err := gzip.NewReader(r)
		require.NoError(t, err)
		rd = g
	case "br":
		rd = brotli.NewReader(r)
	case "zstd":
		z, err := zstd.NewReader(r)
		require.NoError(t, err)
		defer z.Close()
		rd = z
	default:
		rd = r
	}
	b, err := io.ReadAll(rd)
	require.NoError(t, err)
	return b
}

func TestOpenGet_ContentEncoding(t *testing.T) {
	payload := []byte(strings.Repeat("id,name\n1,alpha\n", 200))
	for _, enc := range []string{"", "gzip", "br", "zstd"} {
		t.Run("enc="+enc, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, acceptEncoding, r.Header.Get("Accept-Encoding"))
				assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
				body := payload
				if enc != "" {
					w.Header().Set("Content-Encoding", enc)
					body = compress(t, enc, payload)
				}
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			c := newClient(t, Config{})
			rs, err := c.OpenGet(context.Background(), mustURL(t, srv.URL+"/data.csv"))
			require.NoError(t, err)
			defer rs.Close()

			got, err := io.ReadAll(rs)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			assert.Equal(t, int64(len(payload)), rs.BytesRead())
			assert.Equal(t, http.StatusOK, rs.StatusCode())
		})
	}
}

func TestOpenGet_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such table", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, Config{})
	_, err := c.OpenGet(context.Background(), mustURL(t, srv.URL))
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "no such table", se.Body)
	assert.Equal(t, http.MethodGet, se.Method)
}

func TestOpenGet_Unreachable(t *testing.T) {
	c := newClient(t, Config{Timeouts: Timeouts{Connect: 500 * time.Millisecond}})
	start := time.Now()
	_, err := c.OpenGet(context.Background(), mustURL(t, "http://"+closedAddr(t)+"/x.csv"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenGet_ReceiveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := newClient(t, Config{Timeouts: Timeouts{Receive: 150 * time.Millisecond}})
	rs, err := c.OpenGet(context.Background(), mustURL(t, srv.URL))
	require.NoError(t, err)
	defer rs.Close()

	start := time.Now()
	got, err := io.ReadAll(rs)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "partial", string(got))
	assert.Less(t, time.Since(start), 3*time.Second)

	_, err = rs.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestReadStream_CloseUnblocksRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newClient(t, Config{})
	rs, err := c.OpenGet(context.Background(), mustURL(t, srv.URL))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := rs.Read(make([]byte, 64))
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rs.Close())
	require.NoError(t, rs.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("read did not unblock after Close")
	}
}

type received struct {
	body        []byte
	contentType string
	encoding    string
	err         error
}

func recordingServer(t *testing.T, status int) (*httptest.Server, <-chan received) {
	t.Helper()
	ch := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		rec := received{contentType: r.Header.Get("Content-Type"), encoding: r.Header.Get("Content-Encoding"), err: err}
		if err == nil {
			rec.body = decompress(t, rec.encoding, bytes.NewReader(raw))
		}
		ch <- rec
		if status != http.StatusOK {
			http.Error(w, "rejected", status)
			return
		}
		w.WriteHeader(status)
	}))
	return srv, ch
}

func TestOpenPost_StreamsBody(t *testing.T) {
	for _, enc := range []string{"", "gzip", "br", "zstd"} {
		t.Run("enc="+enc, func(t *testing.T) {
			srv, got := recordingServer(t, http.StatusOK)
			defer srv.Close()

			c := newClient(t, Config{Compression: enc})
			ws, err := c.OpenPost(context.Background(), mustURL(t, srv.URL+"/in"), "text/csv")
			require.NoError(t, err)

			var want bytes.Buffer
			for i := 0; i < 50; i++ {
				line := fmt.Sprintf("%d,row-%d\n", i, i)
				want.WriteString(line)
				_, err := ws.Write([]byte(line))
				require.NoError(t, err)
			}
			require.NoError(t, ws.Finalize())
			require.NoError(t, ws.Close())
			assert.Equal(t, http.StatusOK, ws.StatusCode())
			assert.Equal(t, int64(want.Len()), ws.BytesWritten())

			rec := <-got
			require.NoError(t, rec.err)
			assert.Equal(t, want.Bytes(), rec.body)
			assert.Equal(t, "text/csv", rec.contentType)
			assert.Equal(t, enc, rec.encoding)
		})
	}
}

func TestOpenPost_EmptyBody(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK)
	defer srv.Close()

	c := newClient(t, Config{})
	ws, err := c.OpenPost(context.Background(), mustURL(t, srv.URL), "")
	require.NoError(t, err)
	require.NoError(t, ws.Finalize())

	rec := <-got
	require.NoError(t, rec.err)
	assert.Empty(t, rec.body)
}

func TestOpenPost_StatusErrorOnFinalize(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusInternalServerError)
	defer srv.Close()

	c := newClient(t, Config{})
	ws, err := c.OpenPost(context.Background(), mustURL(t, srv.URL), "text/csv")
	require.NoError(t, err)
	_, err = ws.Write([]byte("1,a\n"))
	require.NoError(t, err)

	err = ws.Finalize()
	require.ErrorIs(t, err, ErrTransport)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "rejected", se.Body)

	assert.ErrorIs(t, ws.Finalize(), ErrTransport)
	require.NoError(t, ws.Close())
}

func TestOpenPost_CloseAbortsUpload(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK)
	defer srv.Close()

	c := newClient(t, Config{})
	ws, err := c.OpenPost(context.Background(), mustURL(t, srv.URL), "text/csv")
	require.NoError(t, err)
	_, err = ws.Write([]byte("1,a\n2,b\n"))
	require.NoError(t, err)

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	select {
	case rec := <-got:
		assert.Error(t, rec.err, "remote must not see a complete body")
	case <-time.After(3 * time.Second):
		t.Fatal("server never observed the aborted upload")
	}

	_, err = ws.Write([]byte("3,c\n"))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestOpenPost_Unreachable(t *testing.T) {
	c := newClient(t, Config{Timeouts: Timeouts{Connect: 500 * time.Millisecond}})
	_, err := c.OpenPost(context.Background(), mustURL(t, "http://"+closedAddr(t)+"/in"), "text/csv")
	require.Error(t, err)
}

func TestOpenPost_EarlyAnswerSurfacesOnWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, Config{})
	ws, err := c.OpenPost(context.Background(), mustURL(t, srv.URL), "text/csv")
	require.NoError(t, err)
	defer ws.Close()

	chunk := bytes.Repeat([]byte("1,a\n"), 64<<10)
	for i := 0; i < 512 && err == nil; i++ {
		_, err = ws.Write(chunk)
	}
	require.ErrorIs(t, err, ErrTransport)
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestOpenPost_SendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, Config{Timeouts: Timeouts{Send: 200 * time.Millisecond}})
	ws, err := c.OpenPost(context.Background(), mustURL(t, srv.URL), "application/octet-stream")
	require.NoError(t, err)
	defer ws.Close()

	chunk := make([]byte, 1<<20)
	start := time.Now()
	for i := 0; i < 256 && err == nil; i++ {
		_, err = ws.Write(chunk)
	}
	require.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAuth(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	cases := []struct {
		name  string
		auth  Auth
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "basic",
			auth: Auth{Type: "basic", Username: "ann", Password: "pw"},
			check: func(t *testing.T, r *http.Request) {
				u, p, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "ann", u)
				assert.Equal(t, "pw", p)
			},
		},
		{
			name: "bearer",
			auth: Auth{Type: "bearer", Token: "abc"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
			},
		},
		{
			name: "apikey header",
			auth: Auth{Type: "apikey", Name: "X-Api-Key", In: "header", Key: "k1"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k1", r.Header.Get("X-Api-Key"))
			},
		},
		{
			name: "apikey query",
			auth: Auth{Type: "apikey", Name: "api_key", In: "query", Key: "k2"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "k2", r.URL.Query().Get("api_key"))
				assert.Equal(t, "1", r.URL.Query().Get("page"))
			},
		},
		{
			name: "oauth2",
			auth: Auth{Type: "oauth2", ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tc.check(t, r)
				assert.Equal(t, "yes", r.Header.Get("X-Trace"))
				_, _ = w.Write([]byte("ok"))
			}))
			defer srv.Close()

			c := newClient(t, Config{Auth: tc.auth, Headers: map[string]string{"X-Trace": "yes"}})
			rs, err := c.OpenGet(context.Background(), mustURL(t, srv.URL+"/t?page=1"))
			require.NoError(t, err)
			defer rs.Close()
			b, err := io.ReadAll(rs)
			require.NoError(t, err)
			assert.Equal(t, "ok", string(b))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Compression: "zstd"}.Validate())
	assert.Error(t, Config{Compression: "lz4"}.Validate())
	assert.Error(t, Config{Auth: Auth{Type: "kerberos"}}.Validate())
	assert.Error(t, Config{Auth: Auth{Type: "apikey", Name: "k", Key: "v", In: "cookie"}}.Validate())
	assert.Error(t, Config{Auth: Auth{Type: "oauth2", ClientID: "id"}}.Validate())

	_, err := NewClient(Config{Compression: "lz4"})
	assert.Error(t, err)
}

func TestTimeouts_Defaults(t *testing.T) {
	got := Timeouts{Send: time.Minute}.withDefaults()
	assert.Equal(t, time.Second, got.Connect)
	assert.Equal(t, time.Minute, got.Send)
	assert.Equal(t, 1800*time.Second, got.Receive)
	assert.True(t, Timeouts{}.IsZero())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "http://xxxxx@host/p", redact("http://user:pw@host/p"))
	assert.Equal(t, "http://host/p?a=b@c", redact("http://host/p?a=b@c"))
	assert.Equal(t, "http://host/p", redact("http://host/p"))
}
