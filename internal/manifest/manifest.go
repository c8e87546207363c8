// Package manifest describes a copy job: one source table and the sinks
// its batches are fanned out to.
package manifest

import "urltable/storage"

// Source is the table rows are read from.
type Source struct {
	Engine string   `yaml:"engine"` // defaults to URL
	Args   []string `yaml:"args"`
}

// Sink is one destination. Which fields apply depends on Kind.
type Sink struct {
	Kind string `yaml:"kind"` // url|stdout|kafka
	Name string `yaml:"name"`

	// url
	Args []string `yaml:"args"`

	// stdout, kafka
	Format string `yaml:"format"`

	// kafka
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int16    `yaml:"required_acks"` // 0,1,-1
	Key          string   `yaml:"key"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Name          string `yaml:"name"`

	// Either Columns or Structure ("id Int64, name String") declares the
	// table schema.
	Columns   []storage.Column `yaml:"columns"`
	Structure string           `yaml:"structure"`

	Source Source `yaml:"source"`
	Sinks  []Sink `yaml:"sinks"`

	// Settings is the path of a settings YAML, relative to the manifest.
	Settings  string `yaml:"settings"`
	BatchSize int    `yaml:"batch_size"`
}
