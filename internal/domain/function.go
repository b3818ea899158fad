package domain

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Engine identifies the runtime a transform's source is written for.
type Engine uint8

const (
	// EngineExpression runs the function text as an expression-language program.
	EngineExpression Engine = 0
	// EngineScript runs the function text as a scripting-language function.
	EngineScript Engine = 1
)

func (e Engine) String() string {
	switch e {
	case EngineExpression:
		return "expression"
	case EngineScript:
		return "script"
	default:
		return "engine(" + strconv.Itoa(int(e)) + ")"
	}
}

// Transform is a user-defined function registered for an organization.
//
// A Transform without Streams is a query-time function. A Transform with
// Streams is stream-bound: it is applied automatically to every record of the
// listed targets and is expanded into one StreamTransform per target.
type Transform struct {
	Function  string        `json:"function" yaml:"function" validate:"required"`
	Name      string        `json:"name" yaml:"name" validate:"required,max=256"`
	Params    string        `json:"params" yaml:"params"`
	NumArgs   uint8         `json:"numArgs" yaml:"numArgs"`
	TransType Engine        `json:"transType" yaml:"transType" validate:"oneof=0 1"`
	Streams   []StreamOrder `json:"streams,omitempty" yaml:"streams,omitempty" validate:"omitempty,dive"`
}

// StreamOrder binds a transform to one stream at a given apply order.
type StreamOrder struct {
	Stream     string     `json:"stream" yaml:"stream" validate:"required"`
	Order      uint8      `json:"order" yaml:"order"`
	StreamType StreamType `json:"streamType" yaml:"streamType"`
}

// Equal reports whether two transforms carry the same logic. Stream bindings
// are not part of a transform's identity.
func (t Transform) Equal(other Transform) bool {
	return t.Name == other.Name && t.Function == other.Function && t.Params == other.Params
}

// IsStreamBound reports whether the transform targets one or more streams.
func (t Transform) IsStreamBound() bool {
	return t.Streams != nil
}

// WithoutStreams returns a copy of t with its stream bindings cleared.
func (t Transform) WithoutStreams() Transform {
	t.Streams = nil
	return t
}

// ToStreamTransforms expands a stream-bound transform into one entry per
// target. Query-time transforms expand to nothing.
func (t Transform) ToStreamTransforms() []StreamTransform {
	if t.Streams == nil {
		return nil
	}
	fn := t.WithoutStreams()
	out := make([]StreamTransform, 0, len(t.Streams))
	for _, s := range t.Streams {
		out = append(out, StreamTransform{
			Transform:  fn,
			Stream:     s.Stream,
			Order:      s.Order,
			StreamType: s.StreamType,
		})
	}
	return out
}

// StreamTransform is a Transform flattened against exactly one target.
type StreamTransform struct {
	Transform
	Stream     string     `json:"stream"`
	Order      uint8      `json:"order"`
	StreamType StreamType `json:"streamType"`
}

// SameBinding reports whether both entries bind the same transform name to
// the same stream. It is the replace-in-place key used by cache upserts.
func (st StreamTransform) SameBinding(other StreamTransform) bool {
	return st.Stream == other.Stream &&
		st.Transform.Name == other.Transform.Name &&
		st.StreamType == other.StreamType
}

// CacheKey returns the stream-bound cache key for this entry within org.
func (st StreamTransform) CacheKey(org string) string {
	return StreamKey(org, st.StreamType, st.Stream)
}

// FunctionList is the list envelope returned by function listings.
type FunctionList struct {
	List []Transform `json:"list"`
}

// StreamFunctionsList is the ordered transform chain bound to one stream.
type StreamFunctionsList struct {
	List []StreamTransform `json:"list"`
}

// FunctionKey returns the ungrouped cache key for a query-time function.
func FunctionKey(org, name string) string {
	return fmt.Sprintf("%s/%s", org, name)
}

// StreamKey returns the cache key shared by stream-bound transforms and
// alerts: {org}/{stream_type}/{stream}.
func StreamKey(org string, streamType StreamType, stream string) string {
	return fmt.Sprintf("%s/%s/%s", org, streamType, stream)
}

// DecodeTransform decodes the stored JSON form of a transform. Stream
// bindings without a stream type default to logs.
func DecodeTransform(b []byte) (Transform, error) {
	var t Transform
	if err := json.Unmarshal(b, &t); err != nil {
		return Transform{}, err
	}
	t.normalize()
	return t, nil
}

// EncodeTransform returns the stored JSON form of a transform.
func EncodeTransform(t Transform) ([]byte, error) {
	t.normalize()
	return json.Marshal(t)
}

func (t *Transform) normalize() {
	if t.Streams == nil {
		return
	}
	streams := make([]StreamOrder, len(t.Streams))
	copy(streams, t.Streams)
	for i := range streams {
		if streams[i].StreamType == "" {
			streams[i].StreamType = StreamTypeLogs
		}
	}
	t.Streams = streams
}
