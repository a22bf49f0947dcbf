package redcap

// Record is one exported REDCap row. The JSON export serializes every value as
// a string, including numbers and checkbox states.
type Record map[string]string

// ProjectInfo mirrors content=project.
type ProjectInfo struct {
	ProjectID                       int    `json:"project_id"`
	ProjectTitle                    string `json:"project_title"`
	InProduction                    int    `json:"in_production"`
	IsLongitudinal                  int    `json:"is_longitudinal"`
	HasRepeatingInstrumentsOrEvents int    `json:"has_repeating_instruments_or_events"`
	SurveysEnabled                  int    `json:"surveys_enabled"`
	RecordAutonumberingEnabled      int    `json:"record_autonumbering_enabled"`
}

// MetadataField mirrors one row of the data dictionary (content=metadata).
type MetadataField struct {
	FieldName                   string `json:"field_name"`
	FormName                    string `json:"form_name"`
	FieldType                   string `json:"field_type"`
	FieldLabel                  string `json:"field_label"`
	SelectChoicesOrCalculations string `json:"select_choices_or_calculations"`
	TextValidationType          string `json:"text_validation_type_or_show_slider_number"`
	BranchingLogic              string `json:"branching_logic"`
	RequiredField               string `json:"required_field"`
}

// FieldName mirrors content=exportFieldNames: the export name differs from the
// original for checkbox fields (one var___choice per choice).
type FieldName struct {
	OriginalFieldName string `json:"original_field_name"`
	ChoiceValue       string `json:"choice_value"`
	ExportFieldName   string `json:"export_field_name"`
}

// Instrument mirrors content=instrument.
type Instrument struct {
	InstrumentName  string `json:"instrument_name"`
	InstrumentLabel string `json:"instrument_label"`
}

// User mirrors content=user (subset of fields the backup keeps).
type User struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Firstname  string `json:"firstname"`
	Lastname   string `json:"lastname"`
	Expiration string `json:"expiration"`
	DataExport int    `json:"data_export"`
	APIExport  int    `json:"api_export"`
	APIImport  int    `json:"api_import"`
}

// UserRole mirrors content=userRole.
type UserRole struct {
	UniqueRoleName string `json:"unique_role_name"`
	RoleLabel      string `json:"role_label"`
}

// UserRoleAssignment mirrors content=userRoleMapping.
type UserRoleAssignment struct {
	Username       string `json:"username"`
	UniqueRoleName string `json:"unique_role_name"`
}

// RepeatingForm mirrors content=repeatingFormsEvents.
type RepeatingForm struct {
	EventName   string `json:"event_name"`
	FormName    string `json:"form_name"`
	CustomLabel string `json:"custom_form_label"`
}

// Arm mirrors content=arm for longitudinal projects.
type Arm struct {
	ArmNum int    `json:"arm_num"`
	Name   string `json:"name"`
}

// Event mirrors content=event for longitudinal projects.
type Event struct {
	EventName       string `json:"event_name"`
	ArmNum          int    `json:"arm_num"`
	UniqueEventName string `json:"unique_event_name"`
}

// LogEntry mirrors one row of content=log. Details carries the
// "var = 'value', [instance] = 2" change string parsed by this package.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Record    string `json:"record"`
}

// File is an exported file-field attachment: raw bytes plus the name and MIME
// type recovered from the response Content-Type header.
type File struct {
	Content     []byte
	Name        string
	ContentType string
}
