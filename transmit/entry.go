package transmit

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusError   Status = "ERROR"
)

// Entry is the audit record of one delivery attempt. Entries are never
// rewritten once appended.
type Entry struct {
	ID              string            `json:"id"`
	BatchID         string            `json:"batch_id"`
	Attempt         int               `json:"attempt"`
	Status          Status            `json:"status"`
	Filename        string            `json:"filename"`
	Date            string            `json:"date"`
	RecordCount     int               `json:"record_count"`
	TotalAmount     string            `json:"total_amount"`
	Endpoint        string            `json:"endpoint"`
	ResponseCode    int               `json:"response_code,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	Error           string            `json:"error,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Sink receives a copy of every entry after it reached the audit log.
type Sink interface {
	RecordTransmission(ctx context.Context, e Entry) error
}

// Payload is the JSON body posted to the accounting endpoint.
type Payload struct {
	Filename    string   `json:"filename"`
	Date        string   `json:"date"`
	RecordCount int      `json:"record_count"`
	CSVData     string   `json:"csv_data"`
	Metadata    Metadata `json:"metadata"`
}

type Metadata struct {
	Source      string      `json:"source"`
	GeneratedAt time.Time   `json:"generated_at"`
	TotalAmount json.Number `json:"total_amount"`
}
