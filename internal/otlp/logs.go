package otlp

import (
	"encoding/hex"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
)

// Record field names produced by LogsToRecords.
const (
	FieldBody           = "body"
	FieldSeverity       = "severity"
	FieldSeverityNumber = "severity_number"
	FieldTraceID        = "trace_id"
	FieldSpanID         = "span_id"
	FieldFlags          = "flags"
	FieldScopeName      = "instrumentation_library_name"
	FieldScopeVersion   = "instrumentation_library_version"
	FieldDropped        = "dropped_attributes_count"
)

// LogsToRecords flattens an export request into one record per log record.
// Resource attributes are applied first, then scope fields, then record
// attributes, so the most specific value wins on key collisions. The record
// time in microseconds is stored under tsColumn; records without a time use
// the observed time, and records with neither leave tsColumn unset.
func LogsToRecords(req *collogspb.ExportLogsServiceRequest, tsColumn string) []map[string]any {
	var out []map[string]any
	for _, rl := range req.GetResourceLogs() {
		resource := map[string]any{}
		putAttributes(resource, rl.GetResource().GetAttributes())

		for _, sl := range rl.GetScopeLogs() {
			scope := sl.GetScope()
			for _, lr := range sl.GetLogRecords() {
				rec := make(map[string]any, len(resource)+len(lr.GetAttributes())+8)
				for k, v := range resource {
					rec[k] = v
				}
				if scope.GetName() != "" {
					rec[FieldScopeName] = scope.GetName()
				}
				if scope.GetVersion() != "" {
					rec[FieldScopeVersion] = scope.GetVersion()
				}
				putAttributes(rec, lr.GetAttributes())
				putLogRecord(rec, lr, tsColumn)
				out = append(out, rec)
			}
		}
	}
	return out
}

func putAttributes(rec map[string]any, attrs []*commonpb.KeyValue) {
	for _, kv := range attrs {
		rec[kv.GetKey()] = ToJSONTyped(FromProto(kv.GetValue()))
	}
}

func putLogRecord(rec map[string]any, lr *logspb.LogRecord, tsColumn string) {
	if body := FromProto(lr.GetBody()); body != nil {
		rec[FieldBody] = ToJSONTyped(body)
	}

	num := int32(lr.GetSeverityNumber())
	rec[FieldSeverityNumber] = int64(num)
	if text := lr.GetSeverityText(); text != "" {
		rec[FieldSeverity] = text
	} else {
		rec[FieldSeverity] = SeverityText(num)
	}

	if id := lr.GetTraceId(); len(id) > 0 {
		rec[FieldTraceID] = hex.EncodeToString(id)
	}
	if id := lr.GetSpanId(); len(id) > 0 {
		rec[FieldSpanID] = hex.EncodeToString(id)
	}
	if flags := lr.GetFlags(); flags != 0 {
		rec[FieldFlags] = int64(flags)
	}
	if n := lr.GetDroppedAttributesCount(); n != 0 {
		rec[FieldDropped] = int64(n)
	}

	ts := lr.GetTimeUnixNano()
	if ts == 0 {
		ts = lr.GetObservedTimeUnixNano()
	}
	if ts != 0 {
		rec[tsColumn] = int64(ts / 1000)
	}
}
