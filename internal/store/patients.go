package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PatientRepository persists patients keyed by their external record name.
type PatientRepository struct {
	col *mongo.Collection
}

func NewPatientRepository(col *mongo.Collection) *PatientRepository {
	ensureIndex(col, bson.D{{Key: "patientName", Value: 1}}, true)
	return &PatientRepository{col: col}
}

// UpsertByName returns the patient with the given name, creating it when
// missing. New REDCap records show up first in the logging feed, so creation
// here is the normal path for freshly enrolled subjects.
func (r *PatientRepository) UpsertByName(ctx context.Context, name string) (*Patient, error) {
	now := time.Now().UTC()
	filter := bson.M{"patientName": name}
	update := bson.M{
		"$set":         bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{"patientId": name, "patientName": name, "createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var p Patient
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PatientRepository) GetByName(ctx context.Context, name string) (*Patient, error) {
	var p Patient
	if err := r.col.FindOne(ctx, bson.M{"patientName": name}).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
