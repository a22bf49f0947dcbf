package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CRFRepository persists instrument rows. The (patient, form, instance,
// deleted=false) tuple is the lookup key the sync engine works against.
type CRFRepository struct {
	col *mongo.Collection
}

func NewCRFRepository(col *mongo.Collection) *CRFRepository {
	ensureIndex(col, bson.D{
		{Key: "patientId", Value: 1},
		{Key: "crfName", Value: 1},
		{Key: "instance", Value: 1},
		{Key: "deleted", Value: 1},
	}, false)
	return &CRFRepository{col: col}
}

// FindActive returns the live CRF row for (patient, form, instance), or
// ErrNotFound. instance == nil matches non-repeating rows only.
func (r *CRFRepository) FindActive(ctx context.Context, patientID primitive.ObjectID, crfName string, instance *int) (*CRF, error) {
	filter := bson.M{
		"patientId": patientID,
		"crfName":   crfName,
		"deleted":   false,
	}
	if instance == nil {
		filter["instance"] = nil
	} else {
		filter["instance"] = *instance
	}
	var c CRF
	if err := r.col.FindOne(ctx, filter).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CRFRepository) Insert(ctx context.Context, c *CRF) (primitive.ObjectID, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	res, err := r.col.InsertOne(ctx, c)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	c.ID = id
	return id, nil
}

func (r *CRFRepository) SetVerified(ctx context.Context, id primitive.ObjectID, verified bool) error {
	return r.setFlag(ctx, id, "verified", verified)
}

// SetDeleted flags a single CRF row, used when a form's data was cleared in
// REDCap without deleting the whole record.
func (r *CRFRepository) SetDeleted(ctx context.Context, id primitive.ObjectID, deleted bool) error {
	return r.setFlag(ctx, id, "deleted", deleted)
}

func (r *CRFRepository) setFlag(ctx context.Context, id primitive.ObjectID, field string, value bool) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{field: value, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IDsByForm lists the ids of all live rows of one form, across patients.
func (r *CRFRepository) IDsByForm(ctx context.Context, crfName string) ([]primitive.ObjectID, error) {
	cur, err := r.col.Find(ctx, bson.M{"crfName": crfName, "deleted": false},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

// MarkPatientDeleted flags every CRF row of the patient as deleted. Used when
// the logging feed reports a whole-record deletion.
func (r *CRFRepository) MarkPatientDeleted(ctx context.Context, patientID primitive.ObjectID) error {
	_, err := r.col.UpdateMany(ctx, bson.M{"patientId": patientID},
		bson.M{"$set": bson.M{"deleted": true, "updatedAt": time.Now().UTC()}})
	return err
}
