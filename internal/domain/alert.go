package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is a comparison used by an alert condition.
type Operator string

// Supported alert condition operators.
const (
	OperatorEqual          Operator = "="
	OperatorNotEqual       Operator = "!="
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
	OperatorContains       Operator = "contains"
)

// Condition matches a single column of a record against a value.
type Condition struct {
	Column   string   `json:"column" validate:"required"`
	Operator Operator `json:"operator" validate:"required,oneof== != > >= < <= contains"`
	Value    string   `json:"value"`
}

// Match reports whether the record satisfies the condition. Missing columns
// never match. Ordering operators compare numerically when both sides parse
// as numbers and lexically otherwise.
func (c Condition) Match(record map[string]any) bool {
	raw, ok := record[c.Column]
	if !ok || raw == nil {
		return false
	}
	got := stringify(raw)

	switch c.Operator {
	case OperatorEqual:
		return got == c.Value
	case OperatorNotEqual:
		return got != c.Value
	case OperatorContains:
		return strings.Contains(got, c.Value)
	}

	cmp, ok := compare(got, c.Value)
	if !ok {
		return false
	}
	switch c.Operator {
	case OperatorGreater:
		return cmp > 0
	case OperatorGreaterOrEqual:
		return cmp >= 0
	case OperatorLess:
		return cmp < 0
	case OperatorLessOrEqual:
		return cmp <= 0
	default:
		return false
	}
}

func compare(a, b string) (int, bool) {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	return strings.Compare(a, b), true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Alert is a rule evaluated against records of one stream.
type Alert struct {
	Name        string     `json:"name" validate:"required"`
	Stream      string     `json:"stream" validate:"required"`
	StreamType  StreamType `json:"stream_type"`
	IsRealTime  bool       `json:"is_real_time"`
	Condition   Condition  `json:"condition"`
	Destination string     `json:"destination,omitempty"`
}

// Trigger is a pending alert evaluation produced by a matching record.
type Trigger struct {
	Timestamp  int64      `json:"timestamp"`
	IsValid    bool       `json:"is_valid"`
	AlertName  string     `json:"alert_name"`
	Stream     string     `json:"stream"`
	Org        string     `json:"org"`
	StreamType StreamType `json:"stream_type"`
}

// AlertKey returns the coordination-store key of an alert definition.
func AlertKey(org string, streamType StreamType, stream, name string) string {
	return fmt.Sprintf("/alerts/%s/%s/%s/%s", org, streamType, stream, name)
}

// TriggerKey returns the coordination-store key a trigger is written to.
func TriggerKey(t Trigger) string {
	return fmt.Sprintf("/trigger/%s/%s/%s/%s", t.Org, t.StreamType, t.Stream, t.AlertName)
}
