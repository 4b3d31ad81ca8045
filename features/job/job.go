package job

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("job not found")

// Job is an ingestion task that could not be completed. Handler is the NSQ
// topic the task was consumed from and is republished to on retry.
type Job struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
