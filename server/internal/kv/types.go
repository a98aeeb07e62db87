package kv

import "time"

type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskStarted  TaskStatus = "started"
	TaskProgress TaskStatus = "progress"
	TaskSuccess  TaskStatus = "success"
	TaskFailure  TaskStatus = "failure"
)

// Done reports whether the task reached a final status.
func (s TaskStatus) Done() bool {
	return s == TaskSuccess || s == TaskFailure
}

type TaskInfo struct {
	PercentStr string `json:"percent_str,omitempty"`
	Percent    int    `json:"percent"`
	Filename   string `json:"filename,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TaskState is what a poller sees for a task id.
type TaskState struct {
	ID         string     `json:"id"`
	DownloadID uint       `json:"download_id"`
	Status     TaskStatus `json:"status"`
	Info       TaskInfo   `json:"info"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
