// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package gcs backs archive.BlobArchiver with Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// Archiver implements archive.BlobArchiver against a single GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
}

// New builds a storage client using application-default credentials
// and targets bucket.
func New(ctx context.Context, bucket string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive/gcs: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive/gcs: new client: %w", err)
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Put implements archive.BlobArchiver.
func (a *Archiver) Put(ctx context.Context, key string, data []byte) error {
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("archive/gcs: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive/gcs: close %s: %w", key, err)
	}
	return nil
}

// Get implements archive.BlobArchiver.
func (a *Archiver) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("archive/gcs: %s: %w", key, errNotFound)
		}
		return nil, fmt.Errorf("archive/gcs: read %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("archive/gcs: read body %s: %w", key, err)
	}
	return data, nil
}

// Delete implements archive.BlobArchiver.
func (a *Archiver) Delete(ctx context.Context, key string) error {
	if err := a.client.Bucket(a.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("archive/gcs: delete %s: %w", key, err)
	}
	return nil
}

var errNotFound = errors.New("not found")
