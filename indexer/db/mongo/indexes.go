package mongo

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the uniqueness and query indexes. When the unique
// progress index cannot be built over historical duplicate rows, the rows
// are deduplicated keeping the most recently updated per key and the build
// is retried once.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	pools := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "pool_address", Value: 1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "protocol", Value: 1}}},
		{Keys: bson.D{{Key: "creation_block", Value: 1}}},
	}
	if _, err := s.db.Collection(poolsCollection).Indexes().CreateMany(ctx, pools); err != nil {
		return errors.Wrap(err, "could not create pool indexes")
	}

	swaps := []mongo.IndexModel{
		{Keys: bson.D{{Key: "tx_hash", Value: 1}, {Key: "log_index", Value: 1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "pool_address", Value: 1}, {Key: "block_number", Value: 1}}},
		{Keys: bson.D{{Key: "block_timestamp", Value: 1}}},
	}
	if _, err := s.db.Collection(swapsCollection).Indexes().CreateMany(ctx, swaps); err != nil {
		return errors.Wrap(err, "could not create swap indexes")
	}

	liquidity := []mongo.IndexModel{
		{Keys: bson.D{{Key: "tx_hash", Value: 1}, {Key: "log_index", Value: 1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "pool_address", Value: 1}, {Key: "block_number", Value: 1}}},
	}
	if _, err := s.db.Collection(liquidityCollection).Indexes().CreateMany(ctx, liquidity); err != nil {
		return errors.Wrap(err, "could not create liquidity indexes")
	}

	tokens := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "token_address", Value: 1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "source", Value: 1}}},
		{Keys: bson.D{{Key: "creator", Value: 1}}},
		{Keys: bson.D{{Key: "creation_timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "name", Value: "text"}, {Key: "symbol", Value: "text"}}},
	}
	if _, err := s.db.Collection(tokensCollection).Indexes().CreateMany(ctx, tokens); err != nil {
		return errors.Wrap(err, "could not create token indexes")
	}

	progressIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "chain_id", Value: 1}, {Key: "stream", Value: 1}, {Key: "scope", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := s.db.Collection(progressCollection).Indexes().CreateOne(ctx, progressIdx)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		log.Warn("Duplicate progress rows block unique index, deduplicating")
		if err := s.dedupeProgress(ctx); err != nil {
			return err
		}
		_, err = s.db.Collection(progressCollection).Indexes().CreateOne(ctx, progressIdx)
	}
	return errors.Wrap(err, "could not create progress index")
}

// dedupeProgress keeps the most recently updated cursor per
// (chain_id, stream, scope) and removes the rest.
func (s *Store) dedupeProgress(ctx context.Context) error {
	coll := s.db.Collection(progressCollection)
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "updated_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "chain_id", Value: "$chain_id"},
				{Key: "stream", Value: "$stream"},
				{Key: "scope", Value: "$scope"},
			}},
			{Key: "keep", Value: bson.D{{Key: "$first", Value: "$_id"}}},
			{Key: "ids", Value: bson.D{{Key: "$push", Value: "$_id"}}},
		}}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return errors.Wrap(err, "could not aggregate duplicate progress rows")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var removed int64
	for cursor.Next(ctx) {
		var group struct {
			Keep interface{}   `bson:"keep"`
			IDs  []interface{} `bson:"ids"`
		}
		if err := cursor.Decode(&group); err != nil {
			return errors.Wrap(err, "could not decode duplicate group")
		}
		if len(group.IDs) < 2 {
			continue
		}
		var drop []interface{}
		for _, id := range group.IDs {
			if id != group.Keep {
				drop = append(drop, id)
			}
		}
		res, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": drop}})
		if err != nil {
			return errors.Wrap(err, "could not remove duplicate progress rows")
		}
		removed += res.DeletedCount
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("Removed duplicate progress cursors")
	}
	return cursor.Err()
}
