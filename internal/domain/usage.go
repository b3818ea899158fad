package domain

import "time"

// UsageType names the ingestion surface a request came through.
type UsageType string

// Usage types.
const (
	UsageTypeJSON UsageType = "json"
	UsageTypeOTLP UsageType = "otlp"
)

// RequestStats is what the write stage reports for one flushed buffer.
type RequestStats struct {
	Size         float64 // megabytes
	Records      int64
	ResponseTime float64 // seconds
}

// UsageRecord is one usage report row.
type UsageRecord struct {
	Org          string
	Stream       string
	StreamType   StreamType
	UsageType    UsageType
	Records      int64
	SizeMB       float64
	ResponseTime float64
	NumFunctions int
	CreatedAt    time.Time
}

// UsageSummary aggregates usage for one stream.
type UsageSummary struct {
	Stream   string  `json:"stream"`
	Requests int64   `json:"requests"`
	Records  int64   `json:"records"`
	SizeMB   float64 `json:"size_mb"`
}

// DvItem is one distinct-value observation emitted during ingestion.
type DvItem struct {
	StreamType  StreamType
	StreamName  string
	FieldName   string
	FieldValue  string
	FilterName  string
	FilterValue string
}

// DistinctValue is an aggregated distinct-value row.
type DistinctValue struct {
	Value    string    `json:"value"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}
