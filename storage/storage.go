// Package storage defines how the engine sees a table: a Storage that
// hands out pull-driven input streams for reads and push-driven output
// streams for writes, plus the registry that builds storages from engine
// arguments. Concrete engines live in subpackages and register themselves
// from init.
package storage

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"urltable/format"
	"urltable/httpio"
)

// Stage is how far the engine wants a storage to process data before
// handing it over.
type Stage int

const (
	StageFetchColumns Stage = iota
	StageWithMergeableState
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageFetchColumns:
		return "FetchColumns"
	case StageWithMergeableState:
		return "WithMergeableState"
	case StageComplete:
		return "Complete"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// QueryInfo is what a storage may know about the query that drives it.
type QueryInfo struct {
	Query string
	ID    string
}

// Settings are the per-table (or per-write) knobs.
type Settings struct {
	MaxBlockSize int              `koanf:"max_block_size"`
	HTTP         httpio.Config    `koanf:"http"`
	Allocator    memory.Allocator `koanf:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxBlockSize: format.DefaultBatchSize,
		HTTP:         httpio.Config{Timeouts: httpio.DefaultTimeouts()},
	}
}

// Merge returns s with every set field of o applied on top.
func (s Settings) Merge(o Settings) Settings {
	if o.MaxBlockSize > 0 {
		s.MaxBlockSize = o.MaxBlockSize
	}
	if o.Allocator != nil {
		s.Allocator = o.Allocator
	}
	h := o.HTTP
	if h.Timeouts.Connect > 0 {
		s.HTTP.Timeouts.Connect = h.Timeouts.Connect
	}
	if h.Timeouts.Send > 0 {
		s.HTTP.Timeouts.Send = h.Timeouts.Send
	}
	if h.Timeouts.Receive > 0 {
		s.HTTP.Timeouts.Receive = h.Timeouts.Receive
	}
	if len(h.Headers) > 0 {
		merged := make(map[string]string, len(s.HTTP.Headers)+len(h.Headers))
		for k, v := range s.HTTP.Headers {
			merged[k] = v
		}
		for k, v := range h.Headers {
			merged[k] = v
		}
		s.HTTP.Headers = merged
	}
	if h.UserAgent != "" {
		s.HTTP.UserAgent = h.UserAgent
	}
	if h.Compression != "" {
		s.HTTP.Compression = h.Compression
	}
	if h.Auth.Type != "" {
		s.HTTP.Auth = h.Auth
	}
	return s
}

// InputStream is a pull iterator over the batches of one read.
//
// Call order: Open, ReadPrefix, Next until io.EOF, ReadSuffix, Close.
// Close is valid at any point and may be called more than once. Records
// returned by Next belong to the caller, who must Release them.
type InputStream interface {
	Name() string
	Header() *arrow.Schema
	Open(ctx context.Context) error
	ReadPrefix() error
	Next() (arrow.Record, error)
	ReadSuffix() error
	Close() error
}

// OutputStream is a push sink for the batches of one write.
//
// Call order: Open, WritePrefix, Write any number of times, WriteSuffix,
// Close. WriteSuffix finalizes the write; Close without it abandons the
// write. Write does not take ownership of the record.
type OutputStream interface {
	Header() *arrow.Schema
	Open(ctx context.Context) error
	WritePrefix() error
	Write(arrow.Record) error
	WriteSuffix() error
	Close() error
}

// Storage is a table as the engine sees it.
type Storage interface {
	Engine() string
	Descriptor() *Descriptor
	Read(ctx context.Context, columns []string, q QueryInfo, stage Stage, batchSize, streams int) ([]InputStream, error)
	Write(ctx context.Context, q QueryInfo, s Settings) (OutputStream, error)
	Rename(path, database, table string) error
}
