// Package url implements the URL table engine: a table backed by a single
// remote HTTP resource, read with GET and written with a streamed POST.
//
//	URL('https://host/path/events.csv', 'CSVWithNames')
//	URL('https://host/path/events.ndjson')   -- format taken from the extension
package url

import (
	"context"
	"fmt"
	neturl "net/url"
	"strings"

	"urltable/format"
	"urltable/httpio"
	"urltable/internal/logging"
	"urltable/storage"
)

const Engine = "URL"

func init() { storage.Register(Engine, New) }

// Storage is a URL table. It holds no state beyond its descriptor and the
// HTTP client, so any number of streams may run against it concurrently.
type Storage struct {
	desc     *storage.Descriptor
	settings storage.Settings
	client   *httpio.Client
}

// New builds a URL table from one or two engine arguments: the address and
// optionally the format name. Nothing touches the network here.
func New(a storage.Arguments) (storage.Storage, error) {
	if n := len(a.Args); n < 1 || n > 2 {
		return nil, &storage.Error{
			Kind:  storage.ErrConfig,
			Op:    "create",
			Table: a.TableName,
			Err:   fmt.Errorf("storage %s requires 1 or 2 arguments: url, format; got %d", Engine, n),
		}
	}
	address := strings.TrimSpace(a.Args[0])
	var formatName string
	if len(a.Args) == 2 {
		formatName = strings.TrimSpace(a.Args[1])
	} else if u, err := neturl.Parse(address); err == nil {
		name, ok := format.FromPath(u.Path)
		if !ok {
			return nil, &storage.Error{
				Kind:  storage.ErrConfig,
				Op:    "create",
				Table: a.TableName,
				Err:   fmt.Errorf("cannot infer format from %q; pass it as the second argument", u.Redacted()),
			}
		}
		formatName = name
	}

	desc, err := storage.NewDescriptor(a.TableName, address, formatName, a.Schema)
	if err != nil {
		return nil, err
	}
	settings := storage.DefaultSettings().Merge(a.Settings)
	client, err := httpio.NewClient(settings.HTTP)
	if err != nil {
		return nil, desc.Errorf(storage.ErrConfig, "create", err)
	}
	logging.L().Debug("url table created", "table", desc.Name(), "address", desc.Address().Redacted(), "format", desc.Format())
	return &Storage{desc: desc, settings: settings, client: client}, nil
}

func (s *Storage) Engine() string                  { return Engine }
func (s *Storage) Descriptor() *storage.Descriptor { return s.desc }

// Read returns exactly one unopened input stream. A single GET cannot be
// split, so streams is ignored, and so is columns since the whole resource
// is decoded anyway.
func (s *Storage) Read(ctx context.Context, columns []string, q storage.QueryInfo, stage storage.Stage, batchSize, streams int) ([]storage.InputStream, error) {
	if stage > storage.StageFetchColumns {
		return nil, s.desc.Errorf(storage.ErrContract, "read", fmt.Errorf("processing stage %s is not supported", stage))
	}
	if err := ctx.Err(); err != nil {
		return nil, s.desc.Errorf(storage.ErrConnection, "read", err)
	}
	if batchSize <= 0 {
		batchSize = s.settings.MaxBlockSize
	}
	return []storage.InputStream{newIngestStream(s.desc, s.client, s.settings.Allocator, batchSize, q)}, nil
}

// Write returns one unopened output stream. Fields set in settings
// override the table settings for this write only.
func (s *Storage) Write(ctx context.Context, q storage.QueryInfo, settings storage.Settings) (storage.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.desc.Errorf(storage.ErrConnection, "write", err)
	}
	client, owned := s.client, false
	if !settings.HTTP.IsZero() {
		merged := s.settings.Merge(settings)
		c, err := httpio.NewClient(merged.HTTP)
		if err != nil {
			return nil, s.desc.Errorf(storage.ErrConfig, "write", err)
		}
		client, owned = c, true
	}
	mem := s.settings.Allocator
	if settings.Allocator != nil {
		mem = settings.Allocator
	}
	return newEgressStream(s.desc, client, owned, mem, q), nil
}

// CloseIdleConnections drops the table client's pooled connections.
// Streams in flight are not affected.
func (s *Storage) CloseIdleConnections() { s.client.CloseIdleConnections() }

// Rename is a no-op: nothing is stored locally.
func (s *Storage) Rename(path, database, table string) error {
	logging.L().Debug("url table renamed", "table", s.desc.Name(), "database", database, "new_name", table)
	return nil
}
