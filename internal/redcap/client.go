package redcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/corelab-ris/capsync/pkg/metrics"
)

// Client talks to a REDCap instance over its form-encoded HTTP API. Every call
// authenticates with the project token and is throttled through a shared
// token-bucket so backup jobs cannot hammer the server.
type Client struct {
	url     string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (tests, custom transports).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithRateLimit sets the client-side throttle. Zero rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for one REDCap project. url is the API endpoint
// (".../api/"), token the project API token.
func New(apiURL, token string, opts ...Option) *Client {
	c := &Client{
		url:     apiURL,
		token:   token,
		httpc:   &http.Client{Timeout: 120 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// logTimeLayout is the timestamp format the logging endpoint accepts and emits.
const logTimeLayout = "2006-01-02 15:04"

func (c *Client) post(ctx context.Context, form url.Values) ([]byte, http.Header, error) {
	content := form.Get("content")
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	form.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	metrics.RedcapRequests.WithLabelValues(content).Inc()
	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.RedcapErrors.WithLabelValues(content).Inc()
		return nil, nil, fmt.Errorf("redcap %s: %w", content, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RedcapErrors.WithLabelValues(content).Inc()
		return nil, nil, fmt.Errorf("redcap %s: read body: %w", content, err)
	}
	if apiErr := checkError(resp.StatusCode, resp.Header.Get("Content-Type"), body); apiErr != nil {
		metrics.RedcapErrors.WithLabelValues(content).Inc()
		return nil, nil, apiErr
	}
	return body, resp.Header, nil
}

// checkError detects both HTTP-level failures and the JSON error envelope
// REDCap occasionally returns with a 2xx status.
func checkError(status int, contentType string, body []byte) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
			return &APIError{StatusCode: status, Message: envelope.Error}
		}
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

func (c *Client) exportJSON(ctx context.Context, form url.Values, out interface{}) error {
	form.Set("format", "json")
	form.Set("returnFormat", "json")
	body, _, err := c.post(ctx, form)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("redcap %s: decode: %w", form.Get("content"), err)
	}
	return nil
}

// ExportVersion returns the server version string (content=version answers in
// plain text, not JSON).
func (c *Client) ExportVersion(ctx context.Context) (string, error) {
	form := url.Values{"content": {"version"}}
	body, _, err := c.post(ctx, form)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) ExportProjectInfo(ctx context.Context) (*ProjectInfo, error) {
	var info ProjectInfo
	if err := c.exportJSON(ctx, url.Values{"content": {"project"}}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ExportMetadata returns the data dictionary, optionally restricted to forms.
func (c *Client) ExportMetadata(ctx context.Context, forms ...string) ([]MetadataField, error) {
	form := url.Values{"content": {"metadata"}}
	if len(forms) > 0 {
		form.Set("forms", strings.Join(forms, ","))
	}
	var fields []MetadataField
	if err := c.exportJSON(ctx, form, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (c *Client) ExportFieldNames(ctx context.Context) ([]FieldName, error) {
	var names []FieldName
	if err := c.exportJSON(ctx, url.Values{"content": {"exportFieldNames"}}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) ExportInstruments(ctx context.Context) ([]Instrument, error) {
	var instruments []Instrument
	if err := c.exportJSON(ctx, url.Values{"content": {"instrument"}}, &instruments); err != nil {
		return nil, err
	}
	return instruments, nil
}

// RecordFilter narrows an ExportRecords call. Empty slices mean "all".
type RecordFilter struct {
	Records []string
	Forms   []string
	Fields  []string
}

func (c *Client) ExportRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	form := url.Values{"content": {"record"}, "type": {"flat"}}
	if len(filter.Records) > 0 {
		form.Set("records", strings.Join(filter.Records, ","))
	}
	if len(filter.Forms) > 0 {
		form.Set("forms", strings.Join(filter.Forms, ","))
	}
	if len(filter.Fields) > 0 {
		form.Set("fields", strings.Join(filter.Fields, ","))
	}
	var records []Record
	if err := c.exportJSON(ctx, form, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) ExportUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.exportJSON(ctx, url.Values{"content": {"user"}}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ExportUserRoles(ctx context.Context) ([]UserRole, error) {
	var roles []UserRole
	if err := c.exportJSON(ctx, url.Values{"content": {"userRole"}}, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (c *Client) ExportUserRoleAssignments(ctx context.Context) ([]UserRoleAssignment, error) {
	var assignments []UserRoleAssignment
	if err := c.exportJSON(ctx, url.Values{"content": {"userRoleMapping"}}, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (c *Client) ExportRepeatingInstrumentsEvents(ctx context.Context) ([]RepeatingForm, error) {
	var repeating []RepeatingForm
	if err := c.exportJSON(ctx, url.Values{"content": {"repeatingFormsEvents"}}, &repeating); err != nil {
		return nil, err
	}
	return repeating, nil
}

func (c *Client) ExportArms(ctx context.Context) ([]Arm, error) {
	var arms []Arm
	if err := c.exportJSON(ctx, url.Values{"content": {"arm"}}, &arms); err != nil {
		return nil, err
	}
	return arms, nil
}

func (c *Client) ExportEvents(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := c.exportJSON(ctx, url.Values{"content": {"event"}}, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// LogFilter narrows an ExportLogging call. Type values follow the API
// ("record_add", "record_edit", "record_delete", ...). Zero times are omitted.
type LogFilter struct {
	Begin time.Time
	End   time.Time
	Type  string
}

func (c *Client) ExportLogging(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	form := url.Values{"content": {"log"}}
	if !filter.Begin.IsZero() {
		form.Set("beginTime", filter.Begin.Format(logTimeLayout))
	}
	if !filter.End.IsZero() {
		form.Set("endTime", filter.End.Format(logTimeLayout))
	}
	if filter.Type != "" {
		form.Set("logtype", filter.Type)
	}
	var logs []LogEntry
	if err := c.exportJSON(ctx, form, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// ExportFile downloads a file-field attachment. Event and repeatInstance may be
// empty/zero for non-longitudinal, non-repeating data. The original filename is
// recovered from the Content-Type "name" parameter.
func (c *Client) ExportFile(ctx context.Context, record, field, event string, repeatInstance int) (*File, error) {
	form := url.Values{
		"content":      {"file"},
		"action":       {"export"},
		"record":       {record},
		"field":        {field},
		"returnFormat": {"json"},
	}
	if event != "" {
		form.Set("event", event)
	}
	if repeatInstance > 0 {
		form.Set("repeat_instance", strconv.Itoa(repeatInstance))
	}
	body, headers, err := c.post(ctx, form)
	if err != nil {
		return nil, err
	}
	f := &File{Content: body}
	if ct := headers.Get("Content-Type"); ct != "" {
		mediaType, params, perr := mime.ParseMediaType(ct)
		if perr == nil {
			f.ContentType = mediaType
			f.Name = params["name"]
		}
	}
	return f, nil
}

// ExportPDF renders an instrument (optionally one record's responses) as PDF.
func (c *Client) ExportPDF(ctx context.Context, record, instrument string) ([]byte, error) {
	form := url.Values{"content": {"pdf"}, "returnFormat": {"json"}}
	if record != "" {
		form.Set("record", record)
	}
	if instrument != "" {
		form.Set("instrument", instrument)
	}
	body, _, err := c.post(ctx, form)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ImportRecords uploads records (overwrite semantics follow the API default,
// normal) and returns the count reported by the server.
func (c *Client) ImportRecords(ctx context.Context, records []Record) (int, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return 0, err
	}
	form := url.Values{
		"content": {"record"},
		"action":  {"import"},
		"type":    {"flat"},
		"data":    {string(data)},
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.exportJSON(ctx, form, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DeleteRecords removes whole records and returns the number deleted.
func (c *Client) DeleteRecords(ctx context.Context, records []string) (int, error) {
	form := url.Values{
		"content":      {"record"},
		"action":       {"delete"},
		"returnFormat": {"json"},
	}
	for i, r := range records {
		form.Set(fmt.Sprintf("records[%d]", i), r)
	}
	body, _, err := c.post(ctx, form)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(string(body)))
	if convErr != nil {
		return 0, fmt.Errorf("redcap record delete: unexpected response %q", body)
	}
	return n, nil
}

// ImportFile uploads a file into a file field. The request is multipart, unlike
// every other call.
func (c *Client) ImportFile(ctx context.Context, record, field, event, filename string, content io.Reader) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"token":        c.token,
		"content":      "file",
		"action":       "import",
		"record":       record,
		"field":        field,
		"returnFormat": "json",
	}
	if event != "" {
		fields["event"] = event
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	metrics.RedcapRequests.WithLabelValues("file_import").Inc()
	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.RedcapErrors.WithLabelValues("file_import").Inc()
		return fmt.Errorf("redcap file import: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("redcap file import: read body: %w", err)
	}
	if apiErr := checkError(resp.StatusCode, resp.Header.Get("Content-Type"), body); apiErr != nil {
		metrics.RedcapErrors.WithLabelValues("file_import").Inc()
		return apiErr
	}
	return nil
}

// DeleteFile removes a file-field attachment.
func (c *Client) DeleteFile(ctx context.Context, record, field, event string) error {
	form := url.Values{
		"content":      {"file"},
		"action":       {"delete"},
		"record":       {record},
		"field":        {field},
		"returnFormat": {"json"},
	}
	if event != "" {
		form.Set("event", event)
	}
	_, _, err := c.post(ctx, form)
	return err
}
