package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

// Store bundles the MongoDB repositories the sync and backup pipelines use.
type Store struct {
	Patients   *PatientRepository
	CRFs       *CRFRepository
	CRFData    *CRFDataRepository
	BackupInfo *BackupInfoRepository
	Audit      *AuditRepository
}

// New wires repositories onto the given database and ensures their indexes.
func New(db *mongo.Database) *Store {
	return &Store{
		Patients:   NewPatientRepository(db.Collection("patients")),
		CRFs:       NewCRFRepository(db.Collection("crfs")),
		CRFData:    NewCRFDataRepository(db.Collection("crf_data")),
		BackupInfo: NewBackupInfoRepository(db.Collection("backup_info")),
		Audit:      NewAuditRepository(db.Collection("audit_logs")),
	}
}

func ensureIndex(col *mongo.Collection, keys bson.D, unique bool) {
	model := mongo.IndexModel{Keys: keys}
	if unique {
		model.Options = options.Index().SetUnique(true)
	}
	// index creation is idempotent; startup proceeds even if it fails
	_, _ = col.Indexes().CreateOne(context.Background(), model)
}
