// Package otlp converts OpenTelemetry log payloads into flat ingestion records.
package otlp

import (
	"strconv"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

// AnyValue is the closed set of OTLP attribute values. The unexported marker
// method keeps implementations inside this package.
type AnyValue interface {
	anyValue()
}

// Variants of AnyValue.
type (
	StringValue string
	BoolValue   bool
	IntValue    int64
	DoubleValue float64
	BytesValue  []byte
	ArrayValue  []AnyValue
	KvListValue []KeyValue
)

// KeyValue is one entry of a KvListValue.
type KeyValue struct {
	Key   string
	Value AnyValue
}

func (StringValue) anyValue() {}
func (BoolValue) anyValue()   {}
func (IntValue) anyValue()    {}
func (DoubleValue) anyValue() {}
func (BytesValue) anyValue()  {}
func (ArrayValue) anyValue()  {}
func (KvListValue) anyValue() {}

// FromProto converts the generated protobuf value. A nil value or an unset
// oneof yields nil.
func FromProto(v *commonpb.AnyValue) AnyValue {
	if v == nil {
		return nil
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return StringValue(val.StringValue)
	case *commonpb.AnyValue_BoolValue:
		return BoolValue(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return IntValue(val.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return DoubleValue(val.DoubleValue)
	case *commonpb.AnyValue_BytesValue:
		return BytesValue(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		items := val.ArrayValue.GetValues()
		out := make(ArrayValue, 0, len(items))
		for _, item := range items {
			out = append(out, FromProto(item))
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		return kvListFromProto(val.KvlistValue.GetValues())
	default:
		return nil
	}
}

func kvListFromProto(kvs []*commonpb.KeyValue) KvListValue {
	out := make(KvListValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, KeyValue{Key: kv.GetKey(), Value: FromProto(kv.GetValue())})
	}
	return out
}

// ToJSON converts v to a JSON-compatible value with every scalar rendered as
// a string. Bytes become an array of numbers.
func ToJSON(v AnyValue) any {
	switch val := v.(type) {
	case StringValue:
		return string(val)
	case BoolValue:
		return strconv.FormatBool(bool(val))
	case IntValue:
		return strconv.FormatInt(int64(val), 10)
	case DoubleValue:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	default:
		return nested(v)
	}
}

// ToJSONTyped is ToJSON with scalar types retained. Nested arrays and lists
// still go through ToJSON.
func ToJSONTyped(v AnyValue) any {
	switch val := v.(type) {
	case StringValue:
		return string(val)
	case BoolValue:
		return bool(val)
	case IntValue:
		return int64(val)
	case DoubleValue:
		return float64(val)
	default:
		return nested(v)
	}
}

func nested(v AnyValue) any {
	switch val := v.(type) {
	case ArrayValue:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, ToJSON(item))
		}
		return out
	case KvListValue:
		out := make(map[string]any, len(val))
		for _, kv := range val {
			out[kv.Key] = ToJSON(kv.Value)
		}
		return out
	case BytesValue:
		out := make([]any, 0, len(val))
		for _, b := range val {
			out = append(out, int64(b))
		}
		return out
	default:
		return nil
	}
}
