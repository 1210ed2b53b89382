package mongo

import (
	"time"

	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dexstream/indexer/indexer/types"
)

// Get fetches a cursor, (nil, nil) when none exists for the key.
func (s *Store) Get(ctx context.Context, chainID uint64, stream types.Stream, scope string) (*types.ProgressCursor, error) {
	cursor := &types.ProgressCursor{}
	err := s.db.Collection(progressCollection).
		FindOne(ctx, bson.M{"chain_id": chainID, "stream": stream, "scope": scope}).
		Decode(cursor)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch progress cursor")
	}
	return cursor, nil
}

// Upsert advances a cursor. last_processed_block moves with $max so the
// stored value is monotone non-decreasing no matter how ticks interleave.
// On first insert target_block starts at last_processed_block and
// started_at is stamped.
func (s *Store) Upsert(ctx context.Context, chainID uint64, stream types.Stream, scope string, lastProcessed uint64, status types.CursorStatus, errMsg string) error {
	if status == "" {
		status = types.CursorRunning
	}
	filter := bson.M{"chain_id": chainID, "stream": stream, "scope": scope}
	update := bson.M{
		"$max": bson.M{"last_processed_block": lastProcessed},
		"$set": bson.M{
			"status":        status,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		},
		"$setOnInsert": bson.M{
			"target_block": lastProcessed,
			"started_at":   time.Now().UTC(),
		},
	}
	_, err := s.db.Collection(progressCollection).
		UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errors.Wrap(err, "could not upsert progress cursor")
}

// Delete removes one cursor; used by the reset-progress operator action.
func (s *Store) Delete(ctx context.Context, chainID uint64, stream types.Stream, scope string) error {
	_, err := s.db.Collection(progressCollection).
		DeleteOne(ctx, bson.M{"chain_id": chainID, "stream": stream, "scope": scope})
	return errors.Wrap(err, "could not delete progress cursor")
}

// DeleteChain removes every cursor of a chain.
func (s *Store) DeleteChain(ctx context.Context, chainID uint64) error {
	_, err := s.db.Collection(progressCollection).
		DeleteMany(ctx, bson.M{"chain_id": chainID})
	return errors.Wrap(err, "could not delete chain progress cursors")
}
