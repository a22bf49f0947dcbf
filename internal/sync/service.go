// Package sync applies the REDCap record logging feed to the MongoDB store.
// Instead of re-exporting whole projects, each run replays only the changes
// logged since the previous watermark.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/corelab-ris/capsync/internal/redcap"
	"github.com/corelab-ris/capsync/internal/store"
	"github.com/corelab-ris/capsync/pkg/logger"
	"github.com/corelab-ris/capsync/pkg/metrics"
)

// defaultStart seeds the watermark for projects that have never been synced.
var defaultStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// recordLogTypes are the logging feed types that touch record data.
var recordLogTypes = []string{"record_add", "record_edit", "record_delete"}

// APIClient is the slice of the REDCap client the sync engine uses.
type APIClient interface {
	ExportProjectInfo(ctx context.Context) (*redcap.ProjectInfo, error)
	ExportMetadata(ctx context.Context, forms ...string) ([]redcap.MetadataField, error)
	ExportLogging(ctx context.Context, filter redcap.LogFilter) ([]redcap.LogEntry, error)
	ExportRecords(ctx context.Context, filter redcap.RecordFilter) ([]redcap.Record, error)
	ExportRepeatingInstrumentsEvents(ctx context.Context) ([]redcap.RepeatingForm, error)
}

type PatientStore interface {
	UpsertByName(ctx context.Context, name string) (*store.Patient, error)
	GetByName(ctx context.Context, name string) (*store.Patient, error)
}

type CRFStore interface {
	FindActive(ctx context.Context, patientID primitive.ObjectID, crfName string, instance *int) (*store.CRF, error)
	Insert(ctx context.Context, c *store.CRF) (primitive.ObjectID, error)
	SetVerified(ctx context.Context, id primitive.ObjectID, verified bool) error
	SetDeleted(ctx context.Context, id primitive.ObjectID, deleted bool) error
	MarkPatientDeleted(ctx context.Context, patientID primitive.ObjectID) error
	IDsByForm(ctx context.Context, crfName string) ([]primitive.ObjectID, error)
}

type CRFDataStore interface {
	Upsert(ctx context.Context, crfID primitive.ObjectID, variable, value string) error
	Values(ctx context.Context, crfID primitive.ObjectID) (map[string]string, error)
}

type BackupStore interface {
	CheckProjectName(ctx context.Context, projectName string) error
	LastBackup(ctx context.Context, projectName string) (time.Time, error)
	SetLastBackup(ctx context.Context, projectName string, t time.Time) error
}

type AuditStore interface {
	Log(ctx context.Context, level, subject, message string) error
}

// Stores bundles the persistence dependencies so fakes stay cheap in tests.
type Stores struct {
	Patients PatientStore
	CRFs     CRFStore
	CRFData  CRFDataStore
	Backups  BackupStore
	Audit    AuditStore
}

// FromStore adapts the concrete MongoDB store.
func FromStore(s *store.Store) Stores {
	return Stores{
		Patients: s.Patients,
		CRFs:     s.CRFs,
		CRFData:  s.CRFData,
		Backups:  s.BackupInfo,
		Audit:    s.Audit,
	}
}

// Service replays REDCap change logs for one project into the store.
type Service struct {
	project string
	api     APIClient
	st      Stores

	now func() time.Time
}

func NewService(project string, api APIClient, st Stores) *Service {
	return &Service{project: project, api: api, st: st, now: time.Now}
}

// Report summarizes one sync run.
type Report struct {
	Project   string    `json:"project"`
	Begin     time.Time `json:"begin"`
	End       time.Time `json:"end"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// VerifyProjectName checks that the token points at the project we think it
// does. A mismatched token would silently cross-contaminate databases.
func (s *Service) VerifyProjectName(ctx context.Context) error {
	info, err := s.api.ExportProjectInfo(ctx)
	if err != nil {
		return err
	}
	if info.ProjectTitle != s.project {
		return fmt.Errorf("token belongs to project %q, expected %q", info.ProjectTitle, s.project)
	}
	return nil
}

// GrabLogs fetches record add/edit/delete logs in [begin, end] merged and
// sorted by timestamp. Log timestamps are minute-precision strings that sort
// lexicographically in chronological order.
func (s *Service) GrabLogs(ctx context.Context, begin, end time.Time) ([]redcap.LogEntry, error) {
	var all []redcap.LogEntry
	for _, t := range recordLogTypes {
		logs, err := s.api.ExportLogging(ctx, redcap.LogFilter{Begin: begin, End: end, Type: t})
		if err != nil {
			return nil, fmt.Errorf("export %s logs: %w", t, err)
		}
		all = append(all, logs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

// InstrumentFieldMap builds instrument -> field names from the data
// dictionary. The record identifier (first dictionary row) belongs to every
// form and is excluded; each form additionally owns its generated
// "<form>_complete" field, which is how form-status-only edits are matched.
func (s *Service) InstrumentFieldMap(ctx context.Context) (map[string][]string, error) {
	meta, err := s.api.ExportMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return fieldMapFromMeta(meta), nil
}

func fieldMapFromMeta(meta []redcap.MetadataField) map[string][]string {
	out := map[string][]string{}
	for i, m := range meta {
		if i == 0 {
			continue
		}
		out[m.FormName] = append(out[m.FormName], m.FieldName)
	}
	for form := range out {
		out[form] = append(out[form], form+"_complete")
	}
	return out
}

// RepeatingInstruments returns the set of repeating form names, empty when the
// project has none enabled.
func (s *Service) RepeatingInstruments(ctx context.Context) (map[string]bool, error) {
	info, err := s.api.ExportProjectInfo(ctx)
	if err != nil {
		return nil, err
	}
	repeating := map[string]bool{}
	if info.HasRepeatingInstrumentsOrEvents != 1 {
		return repeating, nil
	}
	forms, err := s.api.ExportRepeatingInstrumentsEvents(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range forms {
		repeating[f.FormName] = true
	}
	return repeating, nil
}

// errNoLiveRows reports that the export held only residual rows: the form has
// no current data for the record.
var errNoLiveRows = errors.New("no live rows")

// fetchFormRecord exports the current row for (record, form, instance).
// Rows with an empty "<form>_complete" are residue of edits to other forms on
// the same event and are dropped. instance is ignored for non-repeating forms.
func (s *Service) fetchFormRecord(ctx context.Context, recordID, form string, repeating bool, instance int) (redcap.Record, error) {
	rows, err := s.api.ExportRecords(ctx, redcap.RecordFilter{
		Records: []string{recordID},
		Forms:   []string{form},
	})
	if err != nil {
		return nil, err
	}
	var live []redcap.Record
	for _, r := range rows {
		if r[form+"_complete"] == "" {
			continue
		}
		if repeating && r["redcap_repeat_instance"] != strconv.Itoa(instance) {
			continue
		}
		live = append(live, r)
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("record %s form %s: %w", recordID, form, errNoLiveRows)
	}
	if len(live) > 1 {
		s.st.Audit.Log(ctx, store.AuditWarning, s.project,
			fmt.Sprintf("record %s form %s: %d rows matched, using the first", recordID, form, len(live)))
	}
	return live[0], nil
}

// Run executes one incremental sync: replay all record logs since the last
// watermark, then advance it. Logs that cannot be applied are collected and
// reported as a WARNING audit entry rather than aborting the run.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if err := s.st.Backups.CheckProjectName(ctx, s.project); err != nil {
		return nil, err
	}
	if err := s.VerifyProjectName(ctx); err != nil {
		return nil, err
	}

	begin, err := s.st.Backups.LastBackup(ctx, s.project)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		begin = defaultStart
	}
	end := s.now()

	logs, err := s.GrabLogs(ctx, begin, end)
	if err != nil {
		return nil, err
	}
	fieldMap, err := s.InstrumentFieldMap(ctx)
	if err != nil {
		return nil, err
	}
	repeating, err := s.RepeatingInstruments(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Project: s.project, Begin: begin, End: end}
	var failed []string

	for _, entry := range logs {
		ev, perr := redcap.ParseChange(entry)
		if perr != nil {
			failed = append(failed, fmt.Sprintf("%s %s: %v", entry.Timestamp, entry.Action, perr))
			continue
		}
		switch ev.Action {
		case redcap.ActionDelete:
			if err := s.applyDelete(ctx, ev); err != nil {
				return nil, err
			}
			report.Processed++
			metrics.SyncLogsProcessed.WithLabelValues(string(ev.Action)).Inc()
		case redcap.ActionCreate, redcap.ActionUpdate:
			applied, aerr := s.applyChange(ctx, ev, fieldMap, repeating)
			if aerr != nil {
				var ferr *failedLogError
				if errors.As(aerr, &ferr) {
					failed = append(failed, ferr.Error())
					continue
				}
				return nil, aerr
			}
			if applied {
				report.Processed++
				metrics.SyncLogsProcessed.WithLabelValues(string(ev.Action)).Inc()
			} else {
				report.Skipped++
			}
		default:
			report.Skipped++
		}
	}

	report.Failed = len(failed)
	if len(failed) > 0 {
		metrics.SyncLogsFailed.Add(float64(len(failed)))
		s.st.Audit.Log(ctx, store.AuditWarning, s.project,
			fmt.Sprintf("%d logs could not be applied: %s", len(failed), strings.Join(failed, "; ")))
	}

	if err := s.st.Backups.SetLastBackup(ctx, s.project, end); err != nil {
		return nil, err
	}
	logger.Infof("sync %s: %d applied, %d skipped, %d failed (window %s .. %s)",
		s.project, report.Processed, report.Skipped, report.Failed,
		begin.Format(time.RFC3339), end.Format(time.RFC3339))
	return report, nil
}

// failedLogError marks a log that could not be applied but should not abort
// the run.
type failedLogError struct {
	msg string
}

func (e *failedLogError) Error() string { return e.msg }

func (s *Service) applyDelete(ctx context.Context, ev *redcap.ChangeEvent) error {
	p, err := s.st.Patients.GetByName(ctx, ev.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// deleted before we ever saw it
			return nil
		}
		return err
	}
	return s.st.CRFs.MarkPatientDeleted(ctx, p.ID)
}

func (s *Service) applyChange(ctx context.Context, ev *redcap.ChangeEvent, fieldMap map[string][]string, repeating map[string]bool) (bool, error) {
	p, err := s.st.Patients.UpsertByName(ctx, ev.RecordID)
	if err != nil {
		return false, err
	}

	// A bare create, or an instance-only entry, changes no data.
	if !ev.HasDataChanges() {
		return false, nil
	}

	instrument := ev.InstrumentFor(fieldMap)
	if instrument == "" {
		return false, &failedLogError{msg: fmt.Sprintf("%s: no instrument matches variables %v",
			ev.RawAction, ev.Variables)}
	}

	var instPtr *int
	instance := 0
	if repeating[instrument] {
		n, ok := ev.Instance()
		if !ok {
			n = 1
		}
		instance = n
		instPtr = &n
	}

	row, err := s.fetchFormRecord(ctx, ev.RecordID, instrument, repeating[instrument], instance)
	if err != nil {
		if errors.Is(err, errNoLiveRows) {
			// the form was cleared (or its record deleted) in REDCap after
			// this log was written
			return s.clearForm(ctx, p.ID, instrument, instPtr)
		}
		return false, &failedLogError{msg: fmt.Sprintf("%s: %v", ev.RawAction, err)}
	}

	crf, err := s.st.CRFs.FindActive(ctx, p.ID, instrument, instPtr)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		fresh := &store.CRF{PatientID: p.ID, CRFName: instrument, Instance: instPtr}
		if _, err := s.st.CRFs.Insert(ctx, fresh); err != nil {
			return false, err
		}
		crf = fresh
	}

	for variable, value := range row {
		switch variable {
		case "redcap_repeat_instrument", "redcap_repeat_instance", "redcap_event_name":
			continue
		}
		if err := s.st.CRFData.Upsert(ctx, crf.ID, logVariable(variable), value); err != nil {
			return false, err
		}
	}

	// statuses 4 and 5 mean verified; any other value (or none) clears the
	// flag so un-verification in REDCap propagates to the mirror
	status := row[instrument+"_status"]
	verified := status == "4" || status == "5"
	if verified != crf.Verified {
		if err := s.st.CRFs.SetVerified(ctx, crf.ID, verified); err != nil {
			return false, err
		}
	}
	return true, nil
}

// clearForm handles a change whose form data has since been wiped in REDCap:
// mark the mirrored row deleted when one exists, nothing to do when none does.
func (s *Service) clearForm(ctx context.Context, patientID primitive.ObjectID, instrument string, instance *int) (bool, error) {
	crf, err := s.st.CRFs.FindActive(ctx, patientID, instrument, instance)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.st.CRFs.SetDeleted(ctx, crf.ID, true); err != nil {
		return false, err
	}
	return true, nil
}

// logVariable maps a checkbox export column (var___choice) to the spelling the
// logging feed and the stored data use (var(choice)).
func logVariable(v string) string {
	if i := strings.Index(v, "___"); i > 0 {
		return v[:i] + "(" + v[i+3:] + ")"
	}
	return v
}
