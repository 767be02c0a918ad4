// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads, validates and writes analysis configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/builder"
	"github.com/AleutianAI/AleutianReach/services/reach/filter"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every load and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults.
const (
	DefaultOutputDir           = "."
	DefaultCallGraphAlgo       = "rta"
	DefaultFilterPolicy        = "allow"
	DefaultFrontend            = FrontendAuto
	DefaultSimulatorMethodName = "runtimeSimulator"
	DefaultFilterWorkers       = 1
)

// Frontends select how class_path is turned into a program model.
const (
	FrontendAuto  = "auto"
	FrontendModel = "model"
	FrontendJava  = "java"
	FrontendGo    = "go"
)

// Config is one analysis run's configuration.
//
// The first block of fields mirrors the keys of the original analysis tool
// so existing configuration files load unchanged.
type Config struct {
	ClassPath            string              `yaml:"class_path" validate:"required"`
	RuntimeTraceFilePath string              `yaml:"runtime_trace_file_path" validate:"required"`
	OutputDirPath        string              `yaml:"output_dir_path"`
	CallGraphAlgo        string              `yaml:"call_graph_algo" validate:"oneof=cha rta"`
	MainMethodSig        string              `yaml:"main_method_sig,omitempty"`
	EntryPointMethodSig  string              `yaml:"entry_point_method_sig" validate:"required"`
	SinkMethodSig        string              `yaml:"sink_method_sig" validate:"required"`
	FilterDefaultPolicy  string              `yaml:"filter_default_policy"`
	Filter               []map[string]string `yaml:"filter"`

	Frontend            string    `yaml:"frontend" validate:"oneof=auto model java go"`
	SimulatorMethodName string    `yaml:"simulator_method_name"`
	FilterWorkers       int       `yaml:"filter_workers" validate:"gte=1,lte=256"`
	LibraryPath         string    `yaml:"library_path,omitempty"`
	SnapshotDBPath      string    `yaml:"snapshot_db_path,omitempty"`
	Exports             Exports   `yaml:"exports,omitempty"`
	Telemetry           Telemetry `yaml:"telemetry"`
}

// Exports configures optional output sinks beyond the local file.
type Exports struct {
	GCS    *GCSExport    `yaml:"gcs,omitempty"`
	Neo4j  *Neo4jExport  `yaml:"neo4j,omitempty"`
	Influx *InfluxExport `yaml:"influx,omitempty"`
}

// GCSExport uploads artifacts to a Google Cloud Storage bucket.
type GCSExport struct {
	Bucket string `yaml:"bucket" validate:"required"`
	Prefix string `yaml:"prefix,omitempty"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

// Neo4jExport writes the reconciled graph to a Neo4j database.
type Neo4jExport struct {
	URI      string `yaml:"uri" validate:"required"`
	Username string `yaml:"username" validate:"required"`

	// PasswordEnv names the environment variable holding the password.
	// When empty or unset the CLI prompts for it.
	PasswordEnv string `yaml:"password_env,omitempty"`
	Database    string `yaml:"database,omitempty"`
}

// InfluxExport records run statistics in InfluxDB.
type InfluxExport struct {
	URL      string `yaml:"url" validate:"required,url"`
	TokenEnv string `yaml:"token_env" validate:"required"`
	Org      string `yaml:"org" validate:"required"`
	Bucket   string `yaml:"bucket" validate:"required"`
}

// Telemetry selects trace and metric exporters.
type Telemetry struct {
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Traces otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none prometheus stdout"`
}

// Default returns a configuration with every optional field defaulted and
// required fields empty.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills empty optional fields and normalizes enum casing.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.OutputDirPath) == "" {
		c.OutputDirPath = DefaultOutputDir
	}
	c.CallGraphAlgo = strings.ToLower(strings.TrimSpace(c.CallGraphAlgo))
	if c.CallGraphAlgo == "" {
		c.CallGraphAlgo = DefaultCallGraphAlgo
	}
	if c.FilterDefaultPolicy == "" {
		c.FilterDefaultPolicy = DefaultFilterPolicy
	}
	c.Frontend = strings.ToLower(strings.TrimSpace(c.Frontend))
	if c.Frontend == "" {
		c.Frontend = DefaultFrontend
	}
	if c.SimulatorMethodName == "" {
		c.SimulatorMethodName = DefaultSimulatorMethodName
	}
	if c.FilterWorkers == 0 {
		c.FilterWorkers = DefaultFilterWorkers
	}
	if c.Telemetry.Traces == "" {
		c.Telemetry.Traces = "none"
	}
	if c.Telemetry.Metrics == "" {
		c.Telemetry.Metrics = "none"
	}
}

var validate = newValidator()

// newValidator reports field names by their yaml keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig. When the filter rules are at fault the
//	chain also holds the *filter.ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	algo, err := builder.ParseAlgorithm(c.CallGraphAlgo)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if algo == builder.RTA && strings.TrimSpace(c.MainMethodSig) == "" {
		return fmt.Errorf("%w: a 'main_method_sig' must be supplied when 'call_graph_algo' is rta", ErrInvalidConfig)
	}
	if _, err := filter.ParseRules(c.FilterDefaultPolicy, c.Filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// describeFieldError renders a validator failure with its yaml key path.
func describeFieldError(fe validator.FieldError) string {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("'%s' must be supplied", key)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("'%s' must be a URL", key)
	}
	return fmt.Sprintf("'%s' failed %s=%s", key, fe.Tag(), fe.Param())
}

// Parse decodes YAML, applies defaults and validates. Unknown and duplicate
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	c := &Config{}
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Encode writes c as block-style YAML with two-space indentation.
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// Write writes c to path, creating parent directories.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}
