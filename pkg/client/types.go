package client

import "time"

// Bot mirrors the descriptor returned by GET /bots.
type Bot struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     *int   `json:"pid"`
}

// Response is the envelope used by every mutating endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Bot     *Bot   `json:"bot,omitempty"`
}

// LogEntry is one line of the in-memory log ring.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// APIError is returned when the daemon answers with a non-200 status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "HTTP " + itoa(e.Status)
	}
	return e.Message
}
