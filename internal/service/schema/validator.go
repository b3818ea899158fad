package schema

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"

	"log-ingest/internal/domain"
)

const maxPartitionKeyLength = 100

// Validator types records against their stream schema, evolves the schema
// with new fields and appends accepted records to a partitioned buffer.
type Validator struct {
	store           *Store
	timestampColumn string
	logger          *slog.Logger
}

// NewValidator creates a Validator. timestampColumn names the field holding
// the record timestamp in microseconds.
func NewValidator(store *Store, timestampColumn string, logger *slog.Logger) *Validator {
	return &Validator{
		store:           store,
		timestampColumn: timestampColumn,
		logger:          logger.With("component", "schema-validator"),
	}
}

// AddValidRecord validates record against the logs schema of meta's stream,
// appends it to buf under its partition key and updates status. It returns
// the last real-time alert the record matched, or nil.
func (v *Validator) AddValidRecord(
	ctx context.Context,
	meta domain.StreamMeta,
	status *domain.RecordStatus,
	buf map[string][]string,
	record map[string]any,
) *domain.Trigger {
	ts, ok := toInt64(record[v.timestampColumn])
	if !ok {
		fail(status, fmt.Sprintf("missing %s", v.timestampColumn))
		return nil
	}

	inferred := InferFields(record)
	sc, err := v.store.update(ctx, meta.OrgID, domain.StreamTypeLogs, meta.StreamName, func(sc *domain.StreamSchema) bool {
		return mergeFields(sc, inferred)
	})
	if err != nil {
		v.logger.Error("error evolving schema", "org", meta.OrgID, "stream", meta.StreamName, "error", err)
		fail(status, err.Error())
		return nil
	}
	if err := castRecord(sc, record); err != nil {
		fail(status, err.Error())
		return nil
	}

	line, err := json.Marshal(record)
	if err != nil {
		fail(status, err.Error())
		return nil
	}

	key := PartitionKey(ts, meta.PartitionTimeLevel, meta.PartitionKeys, record)
	buf[key] = append(buf[key], string(line))
	status.Successful++

	var trigger *domain.Trigger
	for _, alert := range meta.StreamAlerts[domain.StreamKey(meta.OrgID, domain.StreamTypeLogs, meta.StreamName)] {
		if !alert.IsRealTime || !alert.Condition.Match(record) {
			continue
		}
		trigger = &domain.Trigger{
			Timestamp:  ts,
			IsValid:    true,
			AlertName:  alert.Name,
			Stream:     meta.StreamName,
			Org:        meta.OrgID,
			StreamType: domain.StreamTypeLogs,
		}
	}
	return trigger
}

func fail(status *domain.RecordStatus, msg string) {
	status.Failed++
	status.Error = msg
}

// InferFields returns the schema fields implied by a flat record. Null values
// contribute no field.
func InferFields(record map[string]any) []domain.SchemaField {
	out := make([]domain.SchemaField, 0, len(record))
	for k, val := range record {
		ft, ok := inferType(val)
		if !ok {
			continue
		}
		out = append(out, domain.SchemaField{Name: k, Type: ft})
	}
	return out
}

func inferType(v any) (domain.FieldType, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return domain.FieldTypeUtf8, true
	case bool:
		return domain.FieldTypeBoolean, true
	case int, int64, uint64:
		return domain.FieldTypeInt64, true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return domain.FieldTypeInt64, true
		}
		return domain.FieldTypeFloat64, true
	default:
		return domain.FieldTypeUtf8, true
	}
}

// mergeFields appends unknown fields to sc and widens Int64 fields that
// received floating-point values. It reports whether sc changed.
func mergeFields(sc *domain.StreamSchema, fields []domain.SchemaField) bool {
	changed := false
	index := make(map[string]int, len(sc.Fields))
	for i, f := range sc.Fields {
		index[f.Name] = i
	}
	for _, f := range sortedFields(fields) {
		i, ok := index[f.Name]
		if !ok {
			index[f.Name] = len(sc.Fields)
			sc.Fields = append(sc.Fields, f)
			changed = true
			continue
		}
		if sc.Fields[i].Type == domain.FieldTypeInt64 && f.Type == domain.FieldTypeFloat64 {
			sc.Fields[i].Type = domain.FieldTypeFloat64
			changed = true
		}
	}
	return changed
}

func sortedFields(fields []domain.SchemaField) []domain.SchemaField {
	out := append([]domain.SchemaField(nil), fields...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// castRecord converts record values to the types of their schema fields.
func castRecord(sc domain.StreamSchema, record map[string]any) error {
	for _, f := range sc.Fields {
		val, ok := record[f.Name]
		if !ok || val == nil {
			continue
		}
		got, _ := inferType(val)
		if got == f.Type {
			continue
		}
		switch {
		case f.Type == domain.FieldTypeUtf8:
			record[f.Name] = Stringify(val)
		case f.Type == domain.FieldTypeFloat64 && got == domain.FieldTypeInt64:
		default:
			return fmt.Errorf("schema mismatch on field %q: cannot store %s in %s column", f.Name, got, f.Type)
		}
	}
	return nil
}

// PartitionKey returns the buffer key of a record: the UTC time bucket of ts
// (microseconds) followed by one sanitised key=value segment per configured
// partition key present in record.
func PartitionKey(ts int64, level domain.PartitionTimeLevel, keys []string, record map[string]any) string {
	t := time.UnixMicro(ts).UTC()
	var b strings.Builder
	if level == domain.PartitionTimeLevelDaily {
		b.WriteString(t.Format("2006/01/02") + "/00")
	} else {
		b.WriteString(t.Format("2006/01/02/15"))
	}
	for _, k := range keys {
		val, ok := record[k]
		if !ok || val == nil {
			continue
		}
		b.WriteByte('/')
		b.WriteString(FormatPartitionKey(k + "=" + Stringify(val)))
	}
	return b.String()
}

// FormatPartitionKey keeps letters, digits, '=', '-' and '_' and truncates
// the result to 100 bytes.
func FormatPartitionKey(input string) string {
	var b strings.Builder
	b.Grow(min(len(input), maxPartitionKeyLength))
	for _, r := range input {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '=' && r != '-' && r != '_' {
			continue
		}
		if b.Len()+len(string(r)) > maxPartitionKeyLength {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Stringify renders a scalar the way it is stored in Utf8 columns.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
