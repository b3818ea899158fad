package domain

import (
	"fmt"
	"strings"
)

// StreamType classifies the kind of data a stream carries.
type StreamType string

// Stream types known to the platform.
const (
	StreamTypeLogs             StreamType = "logs"
	StreamTypeMetrics          StreamType = "metrics"
	StreamTypeTraces           StreamType = "traces"
	StreamTypeEnrichmentTables StreamType = "enrichment_tables"
	StreamTypeMetadata         StreamType = "metadata"
)

func (s StreamType) String() string { return string(s) }

// ParseStreamType parses the textual form of a stream type. An empty value
// defaults to logs.
func ParseStreamType(v string) (StreamType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "logs":
		return StreamTypeLogs, nil
	case "metrics":
		return StreamTypeMetrics, nil
	case "traces":
		return StreamTypeTraces, nil
	case "enrichment_tables":
		return StreamTypeEnrichmentTables, nil
	case "metadata":
		return StreamTypeMetadata, nil
	default:
		return "", ErrValidation("unknown stream type %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s StreamType) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(StreamTypeLogs), nil
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StreamType) UnmarshalText(b []byte) error {
	v, err := ParseStreamType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PartitionTimeLevel controls the time granularity of storage partitions.
type PartitionTimeLevel string

// Supported partition time levels.
const (
	PartitionTimeLevelHourly PartitionTimeLevel = "hourly"
	PartitionTimeLevelDaily  PartitionTimeLevel = "daily"
)

// StreamParams identifies one stream of one organization.
type StreamParams struct {
	OrgID      string
	StreamName string
	StreamType StreamType
}

// StreamMeta is the read-only view of a stream handed to per-record processing.
type StreamMeta struct {
	OrgID              string
	StreamName         string
	PartitionKeys      []string
	PartitionTimeLevel PartitionTimeLevel
	StreamAlerts       map[string][]Alert
}

// RecordStatus accumulates per-record outcomes for one stream of one request.
type RecordStatus struct {
	Successful uint32 `json:"successful"`
	Failed     uint32 `json:"failed"`
	Error      string `json:"error"`
}

// StreamStatus is the accounting for one stream returned to the caller.
type StreamStatus struct {
	Name string `json:"name"`
	RecordStatus
}

// NewStreamStatus returns an empty status for the named stream.
func NewStreamStatus(name string) StreamStatus {
	return StreamStatus{Name: name}
}

// Total returns the number of records accounted for.
func (s StreamStatus) Total() uint32 {
	return s.Successful + s.Failed
}

// IngestionResponse is the result of an ingestion request.
type IngestionResponse struct {
	Code   int            `json:"code"`
	Status []StreamStatus `json:"status"`
}

// NewIngestionResponse builds a response with the given code and statuses.
func NewIngestionResponse(code int, status []StreamStatus) *IngestionResponse {
	return &IngestionResponse{Code: code, Status: status}
}

// FieldType is the storage type of a schema field.
type FieldType string

// Field types inferred from ingested records.
const (
	FieldTypeUtf8    FieldType = "Utf8"
	FieldTypeInt64   FieldType = "Int64"
	FieldTypeFloat64 FieldType = "Float64"
	FieldTypeBoolean FieldType = "Boolean"
)

// SchemaField is one column of a stream schema.
type SchemaField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// StreamSettings holds per-stream partitioning configuration.
type StreamSettings struct {
	PartitionKeys      []string           `json:"partition_keys,omitempty"`
	PartitionTimeLevel PartitionTimeLevel `json:"partition_time_level,omitempty"`
}

// StreamSchema is the inferred schema and settings of a stream.
type StreamSchema struct {
	Fields   []SchemaField  `json:"fields"`
	Settings StreamSettings `json:"settings"`
}

// Field returns the named field, if present.
func (s *StreamSchema) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// SchemaKey returns the coordination-store key of a stream schema.
func SchemaKey(org string, streamType StreamType, stream string) string {
	return fmt.Sprintf("/schema/%s/%s/%s", org, streamType, stream)
}
