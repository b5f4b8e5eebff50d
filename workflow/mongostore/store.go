// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package mongostore is a MongoDB-backed workflow.Store, for durable
// multi-node deployments.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ado-project/adocore/workflow"
)

const defaultTimeout = 10 * time.Second

// Store persists workflow.Execution documents in a single collection,
// keyed by workflow_id.
type Store struct {
	collection *mongo.Collection
}

// New connects to uri and returns a Store backed by database.collection.
func New(ctx context.Context, uri, database, collection string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, err
	}

	coll := client.Database(database).Collection(collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "workflow_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}

	return &Store{collection: coll}, nil
}

// SaveExecution upserts exec by WorkflowID.
func (s *Store) SaveExecution(ctx context.Context, exec *workflow.Execution) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"workflow_id": exec.WorkflowID},
		exec,
		options.Replace().SetUpsert(true),
	)
	return err
}

// GetExecution returns workflowID's stored execution, or
// workflow.ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, workflowID string) (*workflow.Execution, error) {
	var exec workflow.Execution
	err := s.collection.FindOne(ctx, bson.M{"workflow_id": workflowID}).Decode(&exec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// UpdateExecution replaces workflowID's stored execution.
func (s *Store) UpdateExecution(ctx context.Context, exec *workflow.Execution) error {
	return s.SaveExecution(ctx, exec)
}

// ListExecutions returns every stored execution.
func (s *Store) ListExecutions(ctx context.Context) ([]*workflow.Execution, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*workflow.Execution
	for cursor.Next(ctx) {
		var exec workflow.Execution
		if err := cursor.Decode(&exec); err != nil {
			return nil, err
		}
		out = append(out, &exec)
	}
	return out, cursor.Err()
}
