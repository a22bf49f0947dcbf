package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/corelab-ris/capsync/pkg/logger"
)

// AuditRepository records operational events in the database. WARNING entries
// flag data that needs human review; ERROR entries also fail the caller.
type AuditRepository struct {
	col *mongo.Collection
}

func NewAuditRepository(col *mongo.Collection) *AuditRepository {
	ensureIndex(col, bson.D{{Key: "createdAt", Value: -1}}, false)
	return &AuditRepository{col: col}
}

func (r *AuditRepository) Log(ctx context.Context, level, subject, message string) error {
	entry := AuditEntry{
		Level:     level,
		Subject:   subject,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.col.InsertOne(ctx, entry); err != nil {
		logger.Errorf("audit insert failed: %v", err)
		return err
	}
	switch level {
	case AuditWarning:
		logger.Warnf("%s: %s", subject, message)
	case AuditError:
		logger.Errorf("%s: %s", subject, message)
		return fmt.Errorf("%s: %s", subject, message)
	default:
		logger.Infof("%s: %s", subject, message)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (r *AuditRepository) Recent(ctx context.Context, limit int64) ([]AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(limit)
	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []AuditEntry
	for cur.Next(ctx) {
		var e AuditEntry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, cur.Err()
}
