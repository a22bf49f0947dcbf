package redcap

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChangeAction classifies a record-level log entry.
type ChangeAction string

const (
	ActionCreate  ChangeAction = "CREATE"
	ActionUpdate  ChangeAction = "UPDATE"
	ActionDelete  ChangeAction = "DELETE"
	ActionUnknown ChangeAction = "UNKNOWN"
)

// ChangeEvent is one parsed entry of the record logging feed: who changed what.
// Values holds the variable -> value pairs pulled from the details string;
// Variables preserves their order of appearance.
type ChangeEvent struct {
	RecordID  string
	Action    ChangeAction
	RawAction string
	Timestamp time.Time
	Details   string
	Values    map[string]string
	Variables []string

	instance    int
	hasInstance bool

	ArmNum    int
	ArmName   string
	EventName string
}

const instanceKey = "[instance]"

var (
	recordIDPattern = regexp.MustCompile(`record (\w+)`)
	armPattern      = regexp.MustCompile(`\(Arm (\d+): ([^)]+)\)`)
	eventPattern    = regexp.MustCompile(`\(([^(]+) \(Arm \d+:`)
)

// ParseChange turns a raw LogEntry into a ChangeEvent. It fails only on a
// malformed details string; an unrecognized action yields ActionUnknown so the
// caller can decide whether to skip or report it.
func ParseChange(entry LogEntry) (*ChangeEvent, error) {
	values, order, err := ParseDetails(entry.Details)
	if err != nil {
		return nil, fmt.Errorf("parse log details %q: %w", entry.Details, err)
	}

	ev := &ChangeEvent{
		RecordID:  extractRecordID(entry.Action),
		Action:    normalizeAction(entry.Action),
		RawAction: entry.Action,
		Details:   entry.Details,
		Values:    values,
		Variables: order,
	}
	if ts, terr := time.Parse(logTimeLayout, entry.Timestamp); terr == nil {
		ev.Timestamp = ts
	}

	if raw, ok := values[instanceKey]; ok {
		// An entry carrying only the instance number means no data actually
		// changed, so the instance is irrelevant.
		if len(values) > 1 {
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				ev.instance = n
				ev.hasInstance = true
			}
		}
	}

	if m := armPattern.FindStringSubmatch(entry.Action); m != nil {
		ev.ArmNum, _ = strconv.Atoi(m[1])
		ev.ArmName = strings.TrimSpace(m[2])
	}
	if m := eventPattern.FindStringSubmatch(entry.Action); m != nil {
		ev.EventName = strings.TrimSpace(m[1])
	}
	return ev, nil
}

// Instance reports the repeat instance the change applies to, when the log
// specifies one alongside actual data changes.
func (ev *ChangeEvent) Instance() (int, bool) {
	return ev.instance, ev.hasInstance
}

// HasDataChanges reports whether the entry carries any variable changes beyond
// a bare instance marker.
func (ev *ChangeEvent) HasDataChanges() bool {
	for _, v := range ev.Variables {
		if v != instanceKey {
			return true
		}
	}
	return false
}

// InstrumentFor matches the changed variables against an instrument -> fields
// map and returns the instrument the change belongs to. Checkbox variables
// appear in logs as "field(choice)", hence the optional suffix in the match.
// Empty return means no instrument claimed any of the variables.
func (ev *ChangeEvent) InstrumentFor(fields map[string][]string) string {
	instruments := make([]string, 0, len(fields))
	for name := range fields {
		instruments = append(instruments, name)
	}
	sort.Strings(instruments)

	for _, instrument := range instruments {
		for _, field := range fields[instrument] {
			pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(field) + `(\([a-zA-Z0-9]*\.?[a-zA-Z0-9]*\))?$`)
			if err != nil {
				continue
			}
			for _, v := range ev.Variables {
				if pattern.MatchString(v) {
					return instrument
				}
			}
		}
	}
	return ""
}

func extractRecordID(action string) string {
	if m := recordIDPattern.FindStringSubmatch(action); m != nil {
		return m[1]
	}
	// fallback: last token of the action string
	parts := strings.Fields(action)
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimRight(parts[len(parts)-1], ")")
}

func normalizeAction(action string) ChangeAction {
	switch {
	case strings.Contains(action, "Create record"):
		return ActionCreate
	case strings.Contains(action, "Update record"):
		return ActionUpdate
	case strings.Contains(action, "Delete record"):
		return ActionDelete
	}
	return ActionUnknown
}

// ParseDetails scans the log details string, e.g.
//
//	[instance = 2], q01 = 'some, quoted value', q02(3) = checked
//
// into variable -> value pairs. The format is not self-delimiting: quoted
// values may contain commas and quotes, so a closing quote only counts when
// followed by a comma or the end of the string. Naive comma splitting breaks
// on real log corpora. Surrounding single quotes are stripped from values.
func ParseDetails(details string) (map[string]string, []string, error) {
	values := make(map[string]string)
	var order []string

	n := len(details)
	if n <= 1 {
		return values, order, nil
	}

	left := 0
	right := 1
	for right < n {
		if details[left] == '[' {
			// [instance = N]
			if left+12 > n || details[left:left+12] != "[instance = " {
				return nil, nil, fmt.Errorf("unexpected bracketed token at offset %d", left)
			}
			rest := details[left:]
			eq := strings.Index(rest, "= ")
			end := strings.Index(rest, "]")
			if eq < 0 || end < 0 || eq+2 > end {
				return nil, nil, fmt.Errorf("malformed instance token at offset %d", left)
			}
			values[instanceKey] = strings.TrimSpace(details[left+eq+2 : left+end])
			order = append(order, instanceKey)
			right = left + end + 1
		} else {
			rest := details[left:]
			eq := strings.Index(rest, " = ")
			if eq < 0 {
				break
			}
			endVar := left + eq
			variable := details[left:endVar]

			startVal := endVar + 3
			if startVal >= n {
				values[variable] = ""
				order = append(order, variable)
				break
			}
			right = startVal + 1

			if details[startVal] == '\'' {
				found := false
				for !found {
					if right >= n {
						found = true
						continue
					}
					if details[right] == '\'' {
						if right+1 >= n {
							right = n
							found = true
							continue
						}
						next := details[right+1]
						right++
						if next == ',' {
							found = true
						}
					} else {
						right++
					}
				}
				raw := details[startVal:right]
				values[variable] = strings.Trim(raw, "'")
				order = append(order, variable)
			} else {
				// unquoted values such as `checked`
				rest := details[startVal:]
				if comma := strings.Index(rest, ","); comma >= 0 {
					right = startVal + comma
				} else {
					right = n
				}
				values[variable] = details[startVal:right]
				order = append(order, variable)
			}
		}

		left = right + 2
		right = left + 1
	}

	return values, order, nil
}
