// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		json    bool
	}{
		{name: "auto on buffer is json", format: "auto", json: true},
		{name: "explicit text", format: "text"},
		{name: "explicit json", level: "debug", format: "JSON", json: true},
		{name: "bad level", level: "loud", format: "text", wantErr: true},
		{name: "bad format", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(&buf, tt.level, tt.format)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidLogOption)
				return
			}
			require.NoError(t, err)
			logger.Info("hello", "k", "v")
			if tt.json {
				var rec map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
				require.Equal(t, "hello", rec["msg"])
			} else {
				require.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}

func TestIsTerminal_NonFile(t *testing.T) {
	require.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestSetup_None(t *testing.T) {
	p, err := Setup(context.Background(), config.Telemetry{Traces: "none", Metrics: "none"}, &bytes.Buffer{}, "test")
	require.NoError(t, err)
	require.Nil(t, p.Tracer)
	require.Nil(t, p.Meter)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_StdoutExporters(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(context.Background(), config.Telemetry{Traces: "stdout", Metrics: "stdout"}, &buf, "test")
	require.NoError(t, err)
	require.NotNil(t, p.Tracer)
	require.NotNil(t, p.Meter)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "unit-span")
	span.End()
	counter, err := otel.Meter("telemetry-test").Int64Counter("unit.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	require.NoError(t, p.Shutdown(context.Background()))
	out := buf.String()
	require.True(t, strings.Contains(out, "unit-span"), out)
	require.True(t, strings.Contains(out, "unit.counter"), out)
	require.Contains(t, out, ServiceName)
}

func TestSetup_UnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.Telemetry{Traces: "zipkin"}, &bytes.Buffer{}, "test")
	require.Error(t, err)
}
