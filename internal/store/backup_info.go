package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BackupInfoRepository tracks the last successful sync per project.
type BackupInfoRepository struct {
	col *mongo.Collection
}

func NewBackupInfoRepository(col *mongo.Collection) *BackupInfoRepository {
	ensureIndex(col, bson.D{{Key: "projectName", Value: 1}}, true)
	return &BackupInfoRepository{col: col}
}

// LastBackup returns the sync watermark for the project, or ErrNotFound when
// the project has never been synced.
func (r *BackupInfoRepository) LastBackup(ctx context.Context, projectName string) (time.Time, error) {
	var info BackupInfo
	err := r.col.FindOne(ctx, bson.M{"projectName": projectName}).Decode(&info)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return info.LastBackup, nil
}

func (r *BackupInfoRepository) SetLastBackup(ctx context.Context, projectName string, t time.Time) error {
	filter := bson.M{"projectName": projectName}
	update := bson.M{
		"$set":         bson.M{"lastBackup": t},
		"$setOnInsert": bson.M{"projectName": projectName},
	}
	_, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// ProjectNames lists every project known to the watermark table.
func (r *BackupInfoRepository) ProjectNames(ctx context.Context) ([]string, error) {
	raw, err := r.col.Distinct(ctx, "projectName", bson.M{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// CheckProjectName guards against syncing a project into the wrong database.
// With no projects recorded yet the name is registered. With exactly one it
// must match. With several (shared database) the name must be among them.
func (r *BackupInfoRepository) CheckProjectName(ctx context.Context, projectName string) error {
	names, err := r.ProjectNames(ctx)
	if err != nil {
		return err
	}
	switch len(names) {
	case 0:
		return r.SetLastBackup(ctx, projectName, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC))
	case 1:
		if names[0] != projectName {
			return fmt.Errorf("project %q does not match recorded project %q", projectName, names[0])
		}
		return nil
	default:
		for _, n := range names {
			if n == projectName {
				return nil
			}
		}
		return fmt.Errorf("project %q not among recorded projects %v", projectName, names)
	}
}
