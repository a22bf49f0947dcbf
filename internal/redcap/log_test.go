package redcap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetails(t *testing.T) {
	tests := []struct {
		name    string
		details string
		want    map[string]string
		order   []string
	}{
		{
			name:    "empty",
			details: "",
			want:    map[string]string{},
			order:   nil,
		},
		{
			name:    "single quoted value",
			details: "study_id = '802-45'",
			want:    map[string]string{"study_id": "802-45"},
			order:   []string{"study_id"},
		},
		{
			name:    "multiple quoted values",
			details: "q1001 = '2', q1002 = '3'",
			want:    map[string]string{"q1001": "2", "q1002": "3"},
			order:   []string{"q1001", "q1002"},
		},
		{
			name:    "checkbox checked is unquoted",
			details: "q1003(2) = checked",
			want:    map[string]string{"q1003(2)": "checked"},
			order:   []string{"q1003(2)"},
		},
		{
			name:    "value containing comma",
			details: "notes = 'hello, world', q2 = '1'",
			want:    map[string]string{"notes": "hello, world", "q2": "1"},
			order:   []string{"notes", "q2"},
		},
		{
			name:    "value containing apostrophe",
			details: "comment = 'it's fine', q3 = '2'",
			want:    map[string]string{"comment": "it's fine", "q3": "2"},
			order:   []string{"comment", "q3"},
		},
		{
			name:    "instance with data",
			details: "[instance = 2], q1001 = '5'",
			want:    map[string]string{"[instance]": "2", "q1001": "5"},
			order:   []string{"[instance]", "q1001"},
		},
		{
			name:    "instance token last",
			details: "q1001 = '5', [instance = 3]",
			want:    map[string]string{"q1001": "5", "[instance]": "3"},
			order:   []string{"q1001", "[instance]"},
		},
		{
			name:    "mixed quoted and checked",
			details: "q1 = '2', q2(1) = checked, q3 = 'x'",
			want:    map[string]string{"q1": "2", "q2(1)": "checked", "q3": "x"},
			order:   []string{"q1", "q2(1)", "q3"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values, order, err := ParseDetails(tc.details)
			require.NoError(t, err)
			assert.Equal(t, tc.want, values)
			assert.Equal(t, tc.order, order)
		})
	}
}

func TestParseDetailsMalformedBracket(t *testing.T) {
	_, _, err := ParseDetails("[whatever = 1]")
	require.Error(t, err)
}

func TestParseChange(t *testing.T) {
	entry := LogEntry{
		Timestamp: "2024-12-03 14:22",
		Action:    "Update record 1001 (Event 1 (Arm 2: Drug B))",
		Details:   "[instance = 2], q1001 = '5', q1002(3) = checked",
	}
	ev, err := ParseChange(entry)
	require.NoError(t, err)

	assert.Equal(t, "1001", ev.RecordID)
	assert.Equal(t, ActionUpdate, ev.Action)
	assert.Equal(t, 2, ev.ArmNum)
	assert.Equal(t, "Drug B", ev.ArmName)
	assert.Equal(t, "Event 1", ev.EventName)
	assert.Equal(t, []string{"[instance]", "q1001", "q1002(3)"}, ev.Variables)

	inst, ok := ev.Instance()
	require.True(t, ok)
	assert.Equal(t, 2, inst)

	assert.Equal(t, 3, ev.Timestamp.Day())
	assert.Equal(t, 14, ev.Timestamp.Hour())
}

func TestParseChangeInstanceOnlyMeansNoInstance(t *testing.T) {
	// An entry that names the instance but changes nothing carries no usable
	// instance information.
	ev, err := ParseChange(LogEntry{Action: "Update record 7", Details: "[instance = 4]"})
	require.NoError(t, err)
	_, ok := ev.Instance()
	assert.False(t, ok)
	assert.False(t, ev.HasDataChanges())
}

func TestHasDataChanges(t *testing.T) {
	ev, err := ParseChange(LogEntry{Action: "Update record 7", Details: "[instance = 2], q01 = '3'"})
	require.NoError(t, err)
	assert.True(t, ev.HasDataChanges())

	ev, err = ParseChange(LogEntry{Action: "Create record 8", Details: ""})
	require.NoError(t, err)
	assert.False(t, ev.HasDataChanges())
}

func TestParseChangeActions(t *testing.T) {
	tests := []struct {
		action string
		want   ChangeAction
		record string
		arm    string
	}{
		{"Create record 12", ActionCreate, "12", ""},
		{"Update record 9999 (Event 2 (Arm 1: Control))", ActionUpdate, "9999", "Control"},
		{"Delete record 31 (Arm 2: Treatment)", ActionDelete, "31", "Treatment"},
		{"Manage/Design ", ActionUnknown, "", ""},
	}
	for _, tc := range tests {
		ev, err := ParseChange(LogEntry{Action: tc.action, Details: ""})
		require.NoError(t, err)
		assert.Equal(t, tc.want, ev.Action, tc.action)
		if tc.record != "" {
			assert.Equal(t, tc.record, ev.RecordID, tc.action)
		}
		assert.Equal(t, tc.arm, ev.ArmName, tc.action)
	}
}

func TestParseChangeDeleteOmitsEvent(t *testing.T) {
	// Deleting removes all events of a record, so the action names the arm only.
	ev, err := ParseChange(LogEntry{Action: "Delete record 55 (Arm 1: Arm A)", Details: "record_id = '55'"})
	require.NoError(t, err)
	assert.Equal(t, "Arm A", ev.ArmName)
	assert.Empty(t, ev.EventName)
}

func TestInstrumentFor(t *testing.T) {
	fields := map[string][]string{
		"baseline":  {"age", "sex", "baseline_complete"},
		"follow_up": {"q1001", "q1002", "follow_up_complete"},
	}

	ev, err := ParseChange(LogEntry{Action: "Update record 1", Details: "q1002(3) = checked"})
	require.NoError(t, err)
	assert.Equal(t, "follow_up", ev.InstrumentFor(fields))

	ev, err = ParseChange(LogEntry{Action: "Update record 1", Details: "age = '35'"})
	require.NoError(t, err)
	assert.Equal(t, "baseline", ev.InstrumentFor(fields))

	// variables that no instrument owns (deleted or renamed fields)
	ev, err = ParseChange(LogEntry{Action: "Update record 1", Details: "legacy_var = '1'"})
	require.NoError(t, err)
	assert.Empty(t, ev.InstrumentFor(fields))
}
