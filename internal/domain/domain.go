package domain

// Job statuses. A job moves pending -> running -> succeeded, or back to
// pending when a retryable failure leaves attempts below the ceiling. Once
// attempts reach max_attempts the job is dead-lettered.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobDead      = "dead"
)

// TerminalJobStatuses are the statuses cleanup is allowed to delete.
var TerminalJobStatuses = []string{JobSucceeded, JobFailed, JobDead}

type Plugin struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Enabled      bool   `json:"enabled"`
	ManifestJSON string `json:"manifest_json"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type PluginJob struct {
	ID          string  `json:"id"`
	PluginID    string  `json:"plugin_id"`
	Type        string  `json:"type"`
	PayloadJSON string  `json:"payload_json,omitempty"`
	Status      string  `json:"status" enum:"pending,running,succeeded,failed,dead"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	LockedAt    *string `json:"locked_at,omitempty" format:"date-time"`
	LockOwner   *string `json:"lock_owner,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type PluginDataEntry struct {
	PluginID  string `json:"plugin_id"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// JobStats is a read-only snapshot of the queue.
type JobStats struct {
	Counts        map[string]int `json:"counts"`
	OldestPending *string        `json:"oldest_pending,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
