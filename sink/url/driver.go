// Package url is the sink that writes batches into another URL table.
package url

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"urltable/sink"
	"urltable/storage"
	urlstorage "urltable/storage/url"
)

type Config struct {
	Name     string
	Args     []string // url [, format]
	Settings storage.Settings
}

type driver struct {
	cfg Config
	st  *urlstorage.Storage // reused across Open calls with the same schema
	out storage.OutputStream
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("url-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	return nil
}

func (d *driver) Open(ctx context.Context, schema *arrow.Schema) error {
	if d.out != nil {
		return errors.New("url-sink: already open")
	}
	if d.st == nil || !d.st.Descriptor().Schema().Equal(schema) {
		st, err := urlstorage.New(storage.Arguments{
			Engine:    urlstorage.Engine,
			TableName: d.cfg.Name,
			Args:      d.cfg.Args,
			Schema:    schema,
			Settings:  d.cfg.Settings,
		})
		if err != nil {
			return err
		}
		if d.st != nil {
			d.st.CloseIdleConnections()
		}
		d.st = st.(*urlstorage.Storage)
	}
	out, err := d.st.Write(ctx, storage.QueryInfo{}, storage.Settings{})
	if err != nil {
		return err
	}
	if err := out.Open(ctx); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.WritePrefix(); err != nil {
		_ = out.Close()
		return err
	}
	d.out = out
	return nil
}

func (d *driver) Push(rec arrow.Record) error {
	if d.out == nil {
		return errors.New("url-sink: not open")
	}
	return d.out.Write(rec)
}

func (d *driver) Flush() error {
	if d.out == nil {
		return errors.New("url-sink: not open")
	}
	if err := d.out.WriteSuffix(); err != nil {
		return err
	}
	err := d.out.Close()
	d.out = nil
	return err
}

// Close abandons an unflushed write and drops idle connections to the
// remote.
func (d *driver) Close() error {
	var err error
	if d.out != nil {
		err = d.out.Close()
		d.out = nil
	}
	if d.st != nil {
		d.st.CloseIdleConnections()
	}
	return err
}

func init() { sink.Register("url", func() sink.Adapter { return &driver{} }) }
