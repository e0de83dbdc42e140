package client

import "time"

// StartRequest asks the daemon to bring a preview up.
type StartRequest struct {
	BuildID     string `json:"buildId"`
	ProjectPath string `json:"projectPath,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Mode        string `json:"mode,omitempty"` // development (default) or production
}

// Preview mirrors the daemon's view of one tracked preview.
type Preview struct {
	BuildID     string    `json:"buildId"`
	UserID      string    `json:"userId,omitempty"`
	Port        int       `json:"port"`
	PID         int       `json:"pid"`
	URL         string    `json:"url"`
	ProjectPath string    `json:"projectPath"`
	Status      string    `json:"status"`
	Mode        string    `json:"mode"`
	StartedAt   time.Time `json:"startTime"`
	RetryCount  int       `json:"retryCount"`
}

// PortRange reports allocator diagnostics.
type PortRange struct {
	MinPort   int `json:"min_port"`
	MaxPort   int `json:"max_port"`
	Total     int `json:"total"`
	Allocated int `json:"allocated"`
	Available int `json:"available"`
}

// PortAllocation is one port table entry.
type PortAllocation struct {
	Port     int       `json:"port"`
	BuildID  string    `json:"build_id"`
	LastUsed time.Time `json:"last_used"`
}

// PortsReport is the response of the ports endpoint.
type PortsReport struct {
	Range     PortRange                 `json:"range"`
	Allocated map[string]PortAllocation `json:"allocated"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
