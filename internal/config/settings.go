package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"urltable/storage"
)

const envPrefix = "URLTABLE__"

// LoadSettings merges YAML (if present) with env-vars (prefix
// `URLTABLE__`, delimiter `__`, e.g. URLTABLE__HTTP__TIMEOUTS__CONNECT=2s)
// into table settings.
func LoadSettings(path string) (storage.Settings, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return storage.Settings{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return storage.Settings{}, fmt.Errorf("settings schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(envPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return storage.Settings{}, err
	}

	var s storage.Settings
	if err := k.Unmarshal("", &s); err != nil {
		return s, err
	}
	applyDefaults(&s)
	if err := s.HTTP.Validate(); err != nil {
		return s, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

func applyDefaults(s *storage.Settings) {
	d := storage.DefaultSettings()
	if s.MaxBlockSize <= 0 {
		s.MaxBlockSize = d.MaxBlockSize
	}
	if s.HTTP.Timeouts.Connect <= 0 {
		s.HTTP.Timeouts.Connect = d.HTTP.Timeouts.Connect
	}
	if s.HTTP.Timeouts.Send <= 0 {
		s.HTTP.Timeouts.Send = d.HTTP.Timeouts.Send
	}
	if s.HTTP.Timeouts.Receive <= 0 {
		s.HTTP.Timeouts.Receive = d.HTTP.Timeouts.Receive
	}
	if s.HTTP.Compression == "" {
		s.HTTP.Compression = "none"
	}
}
