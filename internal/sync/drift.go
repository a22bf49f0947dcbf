package sync

import (
	"context"
	"sort"
	"strings"
)

// DriftReport compares the variables mirrored in the store against the live
// data dictionary. Forms holds one entry per form that drifted; an empty map
// means the mirror and the dictionary agree.
type DriftReport struct {
	Project string               `json:"project"`
	Forms   map[string]FormDrift `json:"forms"`
}

// FormDrift lists the variables only one side knows about.
type FormDrift struct {
	OnlyInStore      []string `json:"onlyInStore,omitempty"`
	OnlyInDictionary []string `json:"onlyInDictionary,omitempty"`
}

// SchemaDrift reports, per form, which stored variables no longer exist in the
// data dictionary and which dictionary fields have never been mirrored.
// Renamed or deleted REDCap fields leave stale variables behind that no sync
// run will ever touch again; this is how they get found.
func (s *Service) SchemaDrift(ctx context.Context) (*DriftReport, error) {
	meta, err := s.api.ExportMetadata(ctx)
	if err != nil {
		return nil, err
	}
	idField := ""
	if len(meta) > 0 {
		idField = meta[0].FieldName
	}
	fieldMap := fieldMapFromMeta(meta)

	report := &DriftReport{Project: s.project, Forms: map[string]FormDrift{}}
	for form, fields := range fieldMap {
		dict := make(map[string]bool, len(fields))
		for _, f := range fields {
			dict[f] = true
		}

		ids, err := s.st.CRFs.IDsByForm(ctx, form)
		if err != nil {
			return nil, err
		}
		stored := map[string]bool{}
		for _, id := range ids {
			vals, err := s.st.CRFData.Values(ctx, id)
			if err != nil {
				return nil, err
			}
			for v := range vals {
				stored[v] = true
			}
		}
		if len(stored) == 0 {
			// nothing mirrored for this form yet
			continue
		}

		var onlyStore, onlyDict []string
		bases := map[string]bool{}
		for v := range stored {
			// checkbox variables are stored as "field(choice)"; compare
			// against the dictionary by base name
			base := v
			if i := strings.IndexByte(v, '('); i > 0 && strings.HasSuffix(v, ")") {
				base = v[:i]
			}
			bases[base] = true
			// the record id and "<form>_status" ride along in every export
			// row without being dictionary fields
			if v == idField || base == form+"_status" {
				continue
			}
			if !dict[base] {
				onlyStore = append(onlyStore, v)
			}
		}
		for _, f := range fields {
			if !stored[f] && !bases[f] {
				onlyDict = append(onlyDict, f)
			}
		}
		sort.Strings(onlyStore)
		sort.Strings(onlyDict)
		if len(onlyStore) > 0 || len(onlyDict) > 0 {
			report.Forms[form] = FormDrift{OnlyInStore: onlyStore, OnlyInDictionary: onlyDict}
		}
	}
	return report, nil
}
