package domain

import "time"

// MaintenanceSettings is the global maintenance switch. There is exactly one row.
type MaintenanceSettings struct {
	Enabled   bool      `json:"enabled" db:"enabled"`
	Message   string    `json:"message" db:"message"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	UpdatedBy string    `json:"updatedBy,omitempty" db:"updated_by"`
}

// UpdateMaintenanceRequest is the request body for toggling maintenance mode.
type UpdateMaintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// StatusSource tells where an AccessStatus came from.
type StatusSource string

const (
	SourceCache    StatusSource = "cache"
	SourceBackend  StatusSource = "backend"
	SourceFailOpen StatusSource = "fail_open"
)

// AccessStatus is the answer to "may this client IP pass the gate".
// When Source is SourceFailOpen, Err wraps ErrBackendUnavailable and the
// status always allows access.
type AccessStatus struct {
	MaintenanceEnabled bool
	IsApproved         bool
	IP                 string
	Source             StatusSource
	Err                error
}

// Allowed reports whether the gate should forward the request.
func (s AccessStatus) Allowed() bool {
	return !s.MaintenanceEnabled || s.IsApproved
}

// StatusResponse is the wire form of AccessStatus served by /maintenance/status.
type StatusResponse struct {
	MaintenanceEnabled bool   `json:"maintenanceEnabled"`
	IsApproved         bool   `json:"isApproved"`
	IP                 string `json:"ip"`
	Error              string `json:"error,omitempty"`
}

// NewStatusResponse converts an AccessStatus into its wire form.
func NewStatusResponse(s AccessStatus) StatusResponse {
	resp := StatusResponse{
		MaintenanceEnabled: s.MaintenanceEnabled,
		IsApproved:         s.IsApproved,
		IP:                 s.IP,
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}
