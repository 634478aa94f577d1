package model

// ScalarSample is a single named scalar metric observation on a run's
// step axis. Name is fully qualified (namespace prefix already applied).
type ScalarSample struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Step      int64   `json:"step"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// IngestRequest is the wire payload the HTTP sink backend sends to the
// scalar ingest endpoint.
type IngestRequest struct {
	RunID   string         `json:"run_id"`
	Rank    int            `json:"rank"`
	Samples []ScalarSample `json:"samples"`
}

// IngestErrorResponse is the error body returned by the ingest endpoint.
type IngestErrorResponse struct {
	Message           string `json:"message"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
}
