package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelab-ris/capsync/internal/redcap"
)

type fakeAPI struct {
	info    *redcap.ProjectInfo
	meta    []redcap.MetadataField
	records []redcap.Record
	files   map[string]*redcap.File // key: record|field
}

func (f *fakeAPI) ExportProjectInfo(ctx context.Context) (*redcap.ProjectInfo, error) {
	return f.info, nil
}

func (f *fakeAPI) ExportMetadata(ctx context.Context, forms ...string) ([]redcap.MetadataField, error) {
	return f.meta, nil
}

func (f *fakeAPI) ExportRecords(ctx context.Context, filter redcap.RecordFilter) ([]redcap.Record, error) {
	return f.records, nil
}

func (f *fakeAPI) ExportUsers(ctx context.Context) ([]redcap.User, error) {
	return []redcap.User{{Username: "jdoe"}}, nil
}

func (f *fakeAPI) ExportUserRoles(ctx context.Context) ([]redcap.UserRole, error) {
	return []redcap.UserRole{{UniqueRoleName: "U-1", RoleLabel: "Coordinator"}}, nil
}

func (f *fakeAPI) ExportUserRoleAssignments(ctx context.Context) ([]redcap.UserRoleAssignment, error) {
	return []redcap.UserRoleAssignment{{Username: "jdoe", UniqueRoleName: "U-1"}}, nil
}

func (f *fakeAPI) ExportRepeatingInstrumentsEvents(ctx context.Context) ([]redcap.RepeatingForm, error) {
	return []redcap.RepeatingForm{{FormName: "medications"}}, nil
}

func (f *fakeAPI) ExportFile(ctx context.Context, record, field, event string, repeatInstance int) (*redcap.File, error) {
	return f.files[record+"|"+field], nil
}

func snapshotAPI() *fakeAPI {
	return &fakeAPI{
		info: &redcap.ProjectInfo{ProjectTitle: "Study A", HasRepeatingInstrumentsOrEvents: 1},
		meta: []redcap.MetadataField{
			{FieldName: "record_id", FormName: "demographics", FieldType: "text"},
			{FieldName: "consent_pdf", FormName: "demographics", FieldType: "file"},
		},
		records: []redcap.Record{
			{"record_id": "1001", "consent_pdf": "consent.pdf"},
			{"record_id": "1002", "consent_pdf": ""},
		},
		files: map[string]*redcap.File{
			"1001|consent_pdf": {Content: []byte("%PDF-1.4"), Name: "consent.pdf", ContentType: "application/pdf"},
		},
	}
}

func TestRunWritesSnapshot(t *testing.T) {
	root := t.TempDir()
	svc := NewService("Study A", snapshotAPI(), DirSink{Root: root})
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	m, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "study_a/20240501T120000Z", m.Prefix)
	assert.Equal(t, 1, m.FileCount)

	for _, name := range []string{
		"project_info.json", "metadata.json", "records.json",
		"users.json", "user_roles.json", "user_role_assignments.json",
		"repeating_instruments.json", "manifest.json",
	} {
		_, err := os.Stat(filepath.Join(root, "study_a", "20240501T120000Z", name))
		assert.NoError(t, err, name)
	}

	attachment := filepath.Join(root, "study_a", "20240501T120000Z", "files", "1001", "consent_pdf", "consent.pdf")
	content, err := os.ReadFile(attachment)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(content))
}

func TestManifestDigests(t *testing.T) {
	root := t.TempDir()
	svc := NewService("Study A", snapshotAPI(), DirSink{Root: root})

	m, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, m.Objects)

	for _, obj := range m.Objects {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(obj.Key)))
		require.NoError(t, err, obj.Key)
		sum := md5.Sum(data)
		assert.Equal(t, hex.EncodeToString(sum[:]), obj.MD5, obj.Key)
		assert.Equal(t, len(data), obj.Size, obj.Key)
	}
}

func TestNonRepeatingProjectSkipsRepeatingExport(t *testing.T) {
	root := t.TempDir()
	api := snapshotAPI()
	api.info.HasRepeatingInstrumentsOrEvents = 0

	svc := NewService("Study A", api, DirSink{Root: root})
	m, err := svc.Run(context.Background())
	require.NoError(t, err)

	for _, obj := range m.Objects {
		assert.NotContains(t, obj.Key, "repeating_instruments.json")
	}
}
