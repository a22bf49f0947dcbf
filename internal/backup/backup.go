// Package backup writes full point-in-time snapshots of a REDCap project:
// settings, data dictionary, records, users and file attachments. Snapshots
// land in object storage (or a local directory) under a per-run prefix.
package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/corelab-ris/capsync/internal/redcap"
	"github.com/corelab-ris/capsync/pkg/logger"
	"github.com/corelab-ris/capsync/pkg/metrics"
)

// APIClient is the slice of the REDCap client a backup needs.
type APIClient interface {
	ExportProjectInfo(ctx context.Context) (*redcap.ProjectInfo, error)
	ExportMetadata(ctx context.Context, forms ...string) ([]redcap.MetadataField, error)
	ExportRecords(ctx context.Context, filter redcap.RecordFilter) ([]redcap.Record, error)
	ExportUsers(ctx context.Context) ([]redcap.User, error)
	ExportUserRoles(ctx context.Context) ([]redcap.UserRole, error)
	ExportUserRoleAssignments(ctx context.Context) ([]redcap.UserRoleAssignment, error)
	ExportRepeatingInstrumentsEvents(ctx context.Context) ([]redcap.RepeatingForm, error)
	ExportFile(ctx context.Context, record, field, event string, repeatInstance int) (*redcap.File, error)
}

// Sink receives backup objects. Implemented by MinIO storage and by DirSink
// for local runs.
type Sink interface {
	WriteObject(ctx context.Context, key string, data []byte, contentType string) (digest string, err error)
}

// ObjectStore matches the MinIO wrapper's upload surface.
type ObjectStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// StoreSink adapts an ObjectStore into a Sink.
type StoreSink struct {
	Store ObjectStore
}

func (s StoreSink) WriteObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return s.Store.UploadBytes(ctx, key, data, contentType)
}

// DirSink writes backup objects under a local directory, one file per key.
type DirSink struct {
	Root string
}

func (s DirSink) WriteObject(_ context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// ManifestEntry records one written object.
type ManifestEntry struct {
	Key  string `json:"key"`
	MD5  string `json:"md5"`
	Size int    `json:"size"`
}

// Manifest summarizes a snapshot; it is also written as manifest.json at the
// snapshot prefix.
type Manifest struct {
	Project   string          `json:"project"`
	Prefix    string          `json:"prefix"`
	TakenAt   time.Time       `json:"takenAt"`
	Objects   []ManifestEntry `json:"objects"`
	FileCount int             `json:"fileCount"`
}

// Service runs project backups.
type Service struct {
	project string
	api     APIClient
	sink    Sink

	now func() time.Time
}

func NewService(project string, api APIClient, sink Sink) *Service {
	return &Service{project: project, api: api, sink: sink, now: time.Now}
}

// Run takes one full snapshot and returns its manifest.
func (s *Service) Run(ctx context.Context) (*Manifest, error) {
	taken := s.now().UTC()
	prefix := fmt.Sprintf("%s/%s", Slug(s.project), taken.Format("20060102T150405Z"))
	m := &Manifest{Project: s.project, Prefix: prefix, TakenAt: taken}

	info, err := s.api.ExportProjectInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(ctx, m, prefix+"/project_info.json", info); err != nil {
		return nil, err
	}

	meta, err := s.api.ExportMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(ctx, m, prefix+"/metadata.json", meta); err != nil {
		return nil, err
	}

	records, err := s.api.ExportRecords(ctx, redcap.RecordFilter{})
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(ctx, m, prefix+"/records.json", records); err != nil {
		return nil, err
	}

	users, err := s.api.ExportUsers(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(ctx, m, prefix+"/users.json", users); err != nil {
		return nil, err
	}

	roles, err := s.api.ExportUserRoles(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(ctx, m, prefix+"/user_roles.json", roles); err != nil {
		return nil, err
	}

	assignments, err := s.api.ExportUserRoleAssignments(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(ctx, m, prefix+"/user_role_assignments.json", assignments); err != nil {
		return nil, err
	}

	if info.HasRepeatingInstrumentsOrEvents == 1 {
		repeating, err := s.api.ExportRepeatingInstrumentsEvents(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.writeJSON(ctx, m, prefix+"/repeating_instruments.json", repeating); err != nil {
			return nil, err
		}
	}

	if err := s.backupFiles(ctx, m, prefix, meta, records); err != nil {
		return nil, err
	}

	if err := s.writeJSON(ctx, m, prefix+"/manifest.json", m); err != nil {
		return nil, err
	}
	logger.Infof("backup %s: %d objects under %s", s.project, len(m.Objects), prefix)
	return m, nil
}

// backupFiles exports every populated file-field attachment. The record
// identifier is the first dictionary field; repeat instances come from the
// exported row.
func (s *Service) backupFiles(ctx context.Context, m *Manifest, prefix string, meta []redcap.MetadataField, records []redcap.Record) error {
	if len(meta) == 0 {
		return nil
	}
	idField := meta[0].FieldName

	var fileFields []string
	for _, f := range meta {
		if f.FieldType == "file" {
			fileFields = append(fileFields, f.FieldName)
		}
	}
	if len(fileFields) == 0 {
		return nil
	}

	for _, row := range records {
		recordID := row[idField]
		if recordID == "" {
			continue
		}
		event := row["redcap_event_name"]
		instance := 0
		if raw := row["redcap_repeat_instance"]; raw != "" {
			instance, _ = strconv.Atoi(raw)
		}
		for _, field := range fileFields {
			if row[field] == "" {
				continue
			}
			file, err := s.api.ExportFile(ctx, recordID, field, event, instance)
			if err != nil {
				return fmt.Errorf("export file %s/%s: %w", recordID, field, err)
			}
			name := file.Name
			if name == "" {
				name = row[field]
			}
			key := fmt.Sprintf("%s/files/%s/%s/%s", prefix, recordID, field, name)
			if instance > 0 {
				key = fmt.Sprintf("%s/files/%s/%s/%d/%s", prefix, recordID, field, instance, name)
			}
			digest, err := s.sink.WriteObject(ctx, key, file.Content, file.ContentType)
			if err != nil {
				return err
			}
			m.Objects = append(m.Objects, ManifestEntry{Key: key, MD5: digest, Size: len(file.Content)})
			m.FileCount++
			metrics.BackupObjects.Inc()
		}
	}
	return nil
}

func (s *Service) writeJSON(ctx context.Context, m *Manifest, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	digest, err := s.sink.WriteObject(ctx, key, data, "application/json")
	if err != nil {
		return err
	}
	m.Objects = append(m.Objects, ManifestEntry{Key: key, MD5: digest, Size: len(data)})
	metrics.BackupObjects.Inc()
	return nil
}

// Slug is the object-key prefix form of a project name.
func Slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
