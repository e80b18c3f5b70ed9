package ingestion

import "time"

// IngestionEvent is emitted once an upload is stored and its derivation task queued.
type IngestionEvent struct {
	TaskID      string    `json:"task_id"`
	Namespace   string    `json:"namespace,omitempty"`
	ObjectKey   string    `json:"object_key"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}
