package models

// CronJob is one scheduler entry, persisted in the cron store.
type CronJob struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Schedule  string            `json:"schedule"` // standard 5-field cron expression
	Action    string            `json:"action"`
	Enabled   bool              `json:"enabled"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"` // unix milliseconds
	UpdatedAt int64             `json:"updated_at"`
	LastRunAt int64             `json:"last_run_at,omitempty"`
}

// Scheduler action names dispatched by the cron service.
const (
	ActionSendReminder  = "send_reminder"
	ActionPruneSessions = "prune_sessions"
)
