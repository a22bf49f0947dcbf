package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Patient is one study subject mirrored from REDCap. PatientID keeps the
// external record ID; it doubles as PatientName for REDCap-only projects.
type Patient struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PatientID   string             `bson:"patientId" json:"patientId"`
	PatientName string             `bson:"patientName" json:"patientName"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CRF is one filled-out instrument for a patient: (patient, form, instance)
// identifies it. Instance is nil for non-repeating instruments. Rows are never
// physically removed; Deleted mirrors deletions in the source system.
type CRF struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PatientID primitive.ObjectID `bson:"patientId" json:"patientId"`
	CRFName   string             `bson:"crfName" json:"crfName"`
	Instance  *int               `bson:"instance" json:"instance"`
	Deleted   bool               `bson:"deleted" json:"deleted"`
	Verified  bool               `bson:"verified" json:"verified"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CRFValue is one variable of a CRF row. Checkbox variables keep the
// "field(choice)" spelling used by the logging feed.
type CRFValue struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CRFID     primitive.ObjectID `bson:"crfId" json:"crfId"`
	Variable  string             `bson:"variable" json:"variable"`
	Value     string             `bson:"value" json:"value"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// BackupInfo carries the per-project sync watermark.
type BackupInfo struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ProjectName string             `bson:"projectName" json:"projectName"`
	LastBackup  time.Time          `bson:"lastBackup" json:"lastBackup"`
}

// Audit levels. ERROR entries abort the run that produced them.
const (
	AuditInfo    = "INFO"
	AuditWarning = "WARNING"
	AuditError   = "ERROR"
)

// AuditEntry is one operational event kept alongside the data so pipeline
// operators can review oddities without chasing job logs.
type AuditEntry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Level      string             `bson:"level" json:"level"`
	Subject    string             `bson:"subject" json:"subject"`
	Message    string             `bson:"message" json:"message"`
	Resolution string             `bson:"resolution,omitempty" json:"resolution,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}
