// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package s3 backs archive.BlobArchiver with Amazon S3 (and
// S3-compatible stores like MinIO, via a custom endpoint).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Archiver implements archive.BlobArchiver against a single S3 bucket.
type Archiver struct {
	client *s3.Client
	bucket string
}

// New resolves AWS config for region and builds an Archiver over
// bucket. A non-empty endpoint targets an S3-compatible service
// instead of AWS.
func New(ctx context.Context, region, bucket, endpoint string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive/s3: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive/s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, bucket: bucket}, nil
}

// Put implements archive.BlobArchiver.
func (a *Archiver) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("archive/s3: put %s: %w", key, err)
	}
	return nil
}

// Get implements archive.BlobArchiver.
func (a *Archiver) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("archive/s3: %s: %w", key, errNotFound)
		}
		return nil, fmt.Errorf("archive/s3: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive/s3: read %s: %w", key, err)
	}
	return data, nil
}

// Delete implements archive.BlobArchiver.
func (a *Archiver) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("archive/s3: delete %s: %w", key, err)
	}
	return nil
}

var errNotFound = errors.New("not found")
