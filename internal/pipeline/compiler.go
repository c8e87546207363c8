package pipeline

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"urltable/internal/config"
	"urltable/internal/manifest"
	"urltable/sink"
	"urltable/sink/kafka"
	"urltable/sink/stdout"
	urlsink "urltable/sink/url"
	"urltable/storage"
	urlstorage "urltable/storage/url"

	_ "urltable/format/all"
)

func Compile(path string) (*Runner, error) {
	r := NewRunner()
	if err := LoadYAML(path, r); err != nil {
		return nil, err
	}
	return r, nil
}

func LoadYAML(path string, r *Runner) error {
	m, confPath, err := config.LoadManifest(path)
	if err != nil {
		return err
	}
	settings, err := config.LoadSettings(confPath)
	if err != nil {
		return err
	}
	schema, err := schemaOf(m)
	if err != nil {
		return err
	}

	engine := m.Source.Engine
	if engine == "" {
		engine = urlstorage.Engine
	}
	src, err := storage.Create(storage.Arguments{
		Engine:    engine,
		TableName: m.Name,
		Args:      m.Source.Args,
		Schema:    schema,
		Settings:  settings,
	})
	if err != nil {
		return err
	}
	r.SetSource(src)
	r.SetBatchSize(m.BatchSize)
	r.SetQuery(storage.QueryInfo{ID: m.Name})

	for i, s := range m.Sinks {
		drv, err := sink.NewAdapter(s.Kind)
		if err != nil {
			return err
		}

		switch s.Kind {
		case "url":
			name := s.Name
			if name == "" {
				name = fmt.Sprintf("%s-sink-%d", m.Name, i)
			}
			err = drv.Configure(urlsink.Config{Name: name, Args: s.Args, Settings: settings})
		case "stdout":
			err = drv.Configure(stdout.Config{Format: s.Format})
		case "kafka":
			err = drv.Configure(kafka.Config{
				Brokers: s.Brokers,
				Topic:   s.Topic,
				Acks:    s.RequiredAcks,
				Format:  s.Format,
				Key:     s.Key,
			})
		default:
			err = fmt.Errorf("no config block for sink %q", s.Kind)
		}
		if err != nil {
			return fmt.Errorf("sink %d (%s): %w", i, s.Kind, err)
		}
		r.AddSink(s.Kind, drv)
	}
	return nil
}

func schemaOf(m manifest.File) (*arrow.Schema, error) {
	switch {
	case len(m.Columns) > 0 && m.Structure != "":
		return nil, fmt.Errorf("pipeline: set either columns or structure, not both")
	case m.Structure != "":
		return storage.ParseStructure(m.Structure)
	default:
		return storage.ParseColumns(m.Columns)
	}
}
