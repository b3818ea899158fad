package otlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

func strVal(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func intVal(i int64) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: i}}
}

func TestToJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   *commonpb.AnyValue
		want any
	}{
		{"string", strVal("Test"), "Test"},
		{"bool", &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: false}}, "false"},
		{"int", intVal(20), "20"},
		{"double", &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: 20.0}}, "20"},
		{"double fraction", &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: 1.5}}, "1.5"},
		{"array", &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
			ArrayValue: &commonpb.ArrayValue{Values: []*commonpb.AnyValue{intVal(20)}},
		}}, []any{"20"}},
		{"kvlist", &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{
			KvlistValue: &commonpb.KeyValueList{Values: []*commonpb.KeyValue{{Key: "Test", Value: intVal(20)}}},
		}}, map[string]any{"Test": "20"}},
		{"bytes", &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: []byte{8}}}, []any{int64(8)}},
		{"unset", &commonpb.AnyValue{}, nil},
		{"nil", nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ToJSON(FromProto(tc.in)))
		})
	}
}

func TestToJSONTyped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(20), ToJSONTyped(FromProto(intVal(20))))
	assert.Equal(t, true, ToJSONTyped(BoolValue(true)))
	assert.InDelta(t, 2.5, ToJSONTyped(DoubleValue(2.5)), 0)

	// nested values keep the stringified form
	arr := ArrayValue{IntValue(1), BoolValue(true)}
	assert.Equal(t, []any{"1", "true"}, ToJSONTyped(arr))
}

func TestSeverityText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Unspecified", SeverityText(0))
	assert.Equal(t, "Trace", SeverityText(1))
	assert.Equal(t, "Info", SeverityText(9))
	assert.Equal(t, "Warn ", SeverityText(13))
	assert.Equal(t, "Error2", SeverityText(18))
	assert.Equal(t, "Fatal4", SeverityText(24))
	assert.Equal(t, "Unspecified", SeverityText(25))
	assert.Equal(t, "Unspecified", SeverityText(-1))
}

func TestLogsToRecords(t *testing.T) {
	t.Parallel()

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
				{Key: "service.name", Value: strVal("checkout")},
				{Key: "env", Value: strVal("prod")},
			}},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope: &commonpb.InstrumentationScope{Name: "lib", Version: "1.0"},
				LogRecords: []*logspb.LogRecord{
					{
						TimeUnixNano:   1_700_000_000_123_456_789,
						SeverityNumber: logspb.SeverityNumber_SEVERITY_NUMBER_WARN,
						Body:           strVal("disk almost full"),
						Attributes:     []*commonpb.KeyValue{{Key: "env", Value: strVal("staging")}, {Key: "code", Value: intVal(507)}},
						TraceId:        []byte{0x01, 0xab},
						SpanId:         []byte{0xff},
					},
					{
						ObservedTimeUnixNano: 2_000_000,
						SeverityText:         "CUSTOM",
					},
				},
			}},
		}},
	}

	recs := LogsToRecords(req, "_timestamp")
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, "checkout", first["service.name"])
	assert.Equal(t, "staging", first["env"])
	assert.Equal(t, int64(507), first["code"])
	assert.Equal(t, "lib", first[FieldScopeName])
	assert.Equal(t, "1.0", first[FieldScopeVersion])
	assert.Equal(t, "disk almost full", first[FieldBody])
	assert.Equal(t, "Warn ", first[FieldSeverity])
	assert.Equal(t, int64(13), first[FieldSeverityNumber])
	assert.Equal(t, "01ab", first[FieldTraceID])
	assert.Equal(t, "ff", first[FieldSpanID])
	assert.Equal(t, int64(1_700_000_000_123_456), first["_timestamp"])

	second := recs[1]
	assert.Equal(t, "prod", second["env"])
	assert.Equal(t, "CUSTOM", second[FieldSeverity])
	assert.Equal(t, int64(2000), second["_timestamp"])
	assert.NotContains(t, second, FieldBody)
	assert.NotContains(t, second, FieldTraceID)
}
