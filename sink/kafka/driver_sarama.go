package kafka

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/apache/arrow-go/v18/arrow"

	"urltable/format"
	"urltable/sink"
)

const defaultFormat = "JSONEachRow"

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
	Format  string   `yaml:"format"`        // payload encoding of each batch
	Key     string   `yaml:"key"`           // optional message key
}

// newProducer is swapped in tests.
var newProducer = func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, sc)
}

// driver publishes one message per batch; the value is the whole batch
// encoded with cfg.Format, prefix and suffix included.
type driver struct {
	cfg    Config
	p      sarama.SyncProducer
	schema *arrow.Schema
	codec  format.Codec
	buf    bytes.Buffer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config")
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	codec, err := format.Lookup(cfg.Format)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.cfg, d.codec = cfg, codec
	return nil
}

func (d *driver) Open(_ context.Context, schema *arrow.Schema) error {
	if d.p != nil {
		return errors.New("kafka-sink: already open")
	}
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(d.cfg.Acks)
	sc.Producer.Return.Successes = true
	p, err := newProducer(d.cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p, d.schema = p, schema
	return nil
}

func (d *driver) Push(rec arrow.Record) error {
	if d.p == nil {
		return errors.New("kafka-sink: not open")
	}
	d.buf.Reset()
	enc, err := d.codec.NewEncoder(&d.buf, d.schema, format.Options{})
	if err != nil {
		return err
	}
	if err := enc.WritePrefix(); err != nil {
		return err
	}
	if err := enc.Write(rec); err != nil {
		return err
	}
	if err := enc.WriteSuffix(); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Value: sarama.ByteEncoder(bytes.Clone(d.buf.Bytes())),
		Headers: []sarama.RecordHeader{
			{Key: []byte("format"), Value: []byte(d.cfg.Format)},
			{Key: []byte("content-type"), Value: []byte(d.codec.ContentType())},
		},
	}
	if d.cfg.Key != "" {
		msg.Key = sarama.StringEncoder(d.cfg.Key)
	}
	if _, _, err := d.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka-sink: send to %s: %w", d.cfg.Topic, err)
	}
	return nil
}

// Flush is a no-op: SendMessage returns only once the broker acknowledged.
func (d *driver) Flush() error { return nil }

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	p := d.p
	d.p = nil
	return p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
