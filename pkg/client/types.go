package client

import "time"

// StatusResponse is the backend snapshot returned by GET /status
type StatusResponse struct {
	Name        string        `json:"name"`
	State       string        `json:"state"`
	Description string        `json:"description"`
	PID         int           `json:"pid,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	IsRunning   bool          `json:"is_running"`
	IsHealthy   bool          `json:"is_healthy"`
	CanRestart  bool          `json:"can_restart"`
	Restarts    uint32        `json:"restarts"`
}

// HealthResponse is the backend health report returned by GET /health
type HealthResponse struct {
	Status           string `json:"status"`
	Ready            bool   `json:"ready"`
	UptimeMs         uint64 `json:"uptime_ms"`
	DBStatus         string `json:"db_status"`
	DBResponseTimeMs uint64 `json:"db_response_time_ms"`
}

// HistoryEvent is one lifecycle event returned by GET /history
type HistoryEvent struct {
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Record     HistoryRecord `json:"record"`
}

// HistoryRecord is the snapshot attached to a history event
type HistoryRecord struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
