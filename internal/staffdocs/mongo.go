package staffdocs

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository runs the staff-directory operations against a real MongoDB
// collection, including the pipelines the memory engine only approximates.
type Repository struct {
	col *mongo.Collection
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{col: db.Collection("staff")}
}

// EnsureIndexes creates the single-field, compound and text indexes the demo
// queries rely on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "role", Value: 1}}},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "active", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: "text"}, {Key: "specialties", Value: "text"}}},
	}
	_, err := r.col.Indexes().CreateMany(ctx, models)
	return err
}

// Insert stores one staff document and returns its id.
func (r *Repository) Insert(ctx context.Context, doc bson.M) (string, error) {
	if _, ok := doc["_created_at"]; !ok {
		doc["_created_at"] = time.Now().UTC()
	}
	res, err := r.col.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		return id.Hex(), nil
	}
	return "", nil
}

// Find returns matching documents. Filters use the same dotted-path queries
// shown by the memory engine ("contact.email", "certifications.name").
func (r *Repository) Find(ctx context.Context, filter bson.M) ([]bson.M, error) {
	cur, err := r.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateOne applies a $set/$push update to the first match.
func (r *Repository) UpdateOne(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *Repository) Delete(ctx context.Context, filter bson.M) (int64, error) {
	res, err := r.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CountByRole groups staff by role.
func (r *Repository) CountByRole(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$role", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]int{}
	for cur.Next(ctx) {
		var row struct {
			Role  string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Role] = row.Count
	}
	return out, cur.Err()
}

// AverageCertificationYear computes, per role, the mean certification year of
// active staff. Demonstrates $match, $unwind and $avg.
func (r *Repository) AverageCertificationYear(ctx context.Context) (map[string]float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"active": true}}},
		{{Key: "$unwind", Value: "$certifications"}},
		{{Key: "$group", Value: bson.M{"_id": "$role", "avgYear": bson.M{"$avg": "$certifications.year"}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]float64{}
	for cur.Next(ctx) {
		var row struct {
			Role    string  `bson:"_id"`
			AvgYear float64 `bson:"avgYear"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Role] = row.AvgYear
	}
	return out, cur.Err()
}

// SearchText runs a text-index search over names and specialties, best score
// first.
func (r *Repository) SearchText(ctx context.Context, query string) ([]bson.M, error) {
	filter := bson.M{"$text": bson.M{"$search": query}}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
