package models

// TransferRecord is one completed batch reported to the stats endpoint.
type TransferRecord struct {
	RecordID       string `json:"record_id"`
	Files          int    `json:"files"`
	Bytes          int64  `json:"bytes"`
	DurationMillis int64  `json:"durationMs"`
	CompletedAt    int64  `json:"completed_at"`
}

// TransferTotals are the aggregated counters served by GET /api/stats.
type TransferTotals struct {
	Transfers int64 `json:"transfers"`
	Files     int64 `json:"files"`
	Bytes     int64 `json:"bytes"`
}
