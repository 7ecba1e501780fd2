// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// UpsertTask represents an ingestion job. Content is inline text; when ObjectName is set
// the text is extracted from the uploaded object instead.
type UpsertTask struct {
	JobID      string `json:"job_id"`
	Content    string `json:"content,omitempty"`
	ObjectName string `json:"object_name,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Username   string `json:"username"`
	Namespace  string `json:"namespace"`
}
