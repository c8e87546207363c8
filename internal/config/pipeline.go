package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"urltable/internal/manifest"
)

const SupportedSchema = "v1"

// LoadManifest parses a copy-job YAML, validates schema_version, and
// returns the parsed manifest and an absolute path to its settings file
// (if set).
func LoadManifest(path string) (manifest.File, string, error) {
	var m manifest.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, "", err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, "", fmt.Errorf("parse %s: %w", path, err)
	}
	if m.SchemaVersion == "" {
		m.SchemaVersion = SupportedSchema
	}
	if m.SchemaVersion != SupportedSchema {
		return m, "", fmt.Errorf("pipeline schema_version %q not supported (want %q)", m.SchemaVersion, SupportedSchema)
	}
	if len(m.Source.Args) == 0 {
		return m, "", fmt.Errorf("pipeline %s: source args are required", path)
	}
	if len(m.Sinks) == 0 {
		return m, "", fmt.Errorf("pipeline %s: at least one sink is required", path)
	}
	confPath := m.Settings
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath = filepath.Join(filepath.Dir(path), confPath)
	}
	if confPath != "" {
		if abs, err := filepath.Abs(confPath); err == nil {
			confPath = abs
		}
	}
	return m, confPath, nil
}
