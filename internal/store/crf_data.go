package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CRFDataRepository persists per-variable values, one document per
// (crf, variable).
type CRFDataRepository struct {
	col *mongo.Collection
}

func NewCRFDataRepository(col *mongo.Collection) *CRFDataRepository {
	ensureIndex(col, bson.D{{Key: "crfId", Value: 1}, {Key: "variable", Value: 1}}, true)
	return &CRFDataRepository{col: col}
}

// Upsert writes one variable's value, inserting the document when the variable
// has never been stored for this CRF row.
func (r *CRFDataRepository) Upsert(ctx context.Context, crfID primitive.ObjectID, variable, value string) error {
	filter := bson.M{"crfId": crfID, "variable": variable}
	update := bson.M{
		"$set":         bson.M{"value": value, "updatedAt": time.Now().UTC()},
		"$setOnInsert": bson.M{"crfId": crfID, "variable": variable},
	}
	_, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Values returns variable -> value for a CRF row.
func (r *CRFDataRepository) Values(ctx context.Context, crfID primitive.ObjectID) (map[string]string, error) {
	cur, err := r.col.Find(ctx, bson.M{"crfId": crfID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]string{}
	for cur.Next(ctx) {
		var v CRFValue
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out[v.Variable] = v.Value
	}
	return out, cur.Err()
}
