// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package azblob backs archive.BlobArchiver with Azure Blob Storage.
package azblob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Archiver implements archive.BlobArchiver against a single Azure Blob
// Storage container, authenticating via azidentity.
type Archiver struct {
	client    *azblob.Client
	container string
}

// New builds an Archiver against serviceURL (e.g.
// "https://<account>.blob.core.windows.net") and container, resolving
// credentials through azidentity.NewDefaultAzureCredential.
func New(serviceURL, container string) (*Archiver, error) {
	if serviceURL == "" || container == "" {
		return nil, fmt.Errorf("archive/azblob: service URL and container are required")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("archive/azblob: resolve default credential: %w", err)
	}

	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("archive/azblob: new client: %w", err)
	}

	return &Archiver{client: client, container: container}, nil
}

// Put implements archive.BlobArchiver.
func (a *Archiver) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.container, key, data, nil)
	if err != nil {
		return fmt.Errorf("archive/azblob: upload %s: %w", key, err)
	}
	return nil
}

// Get implements archive.BlobArchiver.
func (a *Archiver) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("archive/azblob: %s: %w", key, errNotFound)
		}
		return nil, fmt.Errorf("archive/azblob: download %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("archive/azblob: read %s: %w", key, err)
	}
	return data, nil
}

// Delete implements archive.BlobArchiver.
func (a *Archiver) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, key, nil)
	if err != nil {
		return fmt.Errorf("archive/azblob: delete %s: %w", key, err)
	}
	return nil
}

var errNotFound = errors.New("not found")
