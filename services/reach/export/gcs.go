// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"google.golang.org/api/option"
)

// objectOpener opens a writer for a named object. The object is committed
// when the writer is closed without error.
type objectOpener func(ctx context.Context, name, contentType string) io.WriteCloser

// GCSSink uploads the DOT graph and JSON report to a bucket.
//
// Objects are named "<prefix>/<run id>/<simulator class>.{dot,json}".
type GCSSink struct {
	bucket string
	prefix string
	client *storage.Client
	open   objectOpener
}

// NewGCSSink creates a GCSSink from configuration.
//
// Inputs:
//
//	ctx - Used to create the storage client.
//	cfg - Bucket is required. CredentialsFile selects a service account key;
//	empty uses application default credentials.
func NewGCSSink(ctx context.Context, cfg config.GCSExport) (*GCSSink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bkt := client.Bucket(cfg.Bucket)
	s := &GCSSink{bucket: cfg.Bucket, prefix: cfg.Prefix, client: client}
	s.open = func(ctx context.Context, name, contentType string) io.WriteCloser {
		w := bkt.Object(name).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}
	return s, nil
}

// Name implements Sink.
func (s *GCSSink) Name() string { return "gcs" }

// ObjectName returns the object name used for file under run.
func (s *GCSSink) ObjectName(runID, file string) string {
	return path.Join(s.prefix, runID, file)
}

// Export implements Sink.
func (s *GCSSink) Export(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	dot, err := a.DOT()
	if err != nil {
		return err
	}
	report, err := a.ReportJSON()
	if err != nil {
		return err
	}
	if err := s.upload(ctx, s.ObjectName(a.RunID, a.DOTName()), "text/vnd.graphviz", dot); err != nil {
		return err
	}
	return s.upload(ctx, s.ObjectName(a.RunID, a.ReportName()), "application/json", report)
}

func (s *GCSSink) upload(ctx context.Context, name, contentType string, data []byte) error {
	w := s.open(ctx, name, contentType)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit gs://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
