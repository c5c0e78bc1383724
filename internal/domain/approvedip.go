package domain

import "time"

// ApprovedIP is an address allowed through the gate while maintenance is on.
type ApprovedIP struct {
	ID             string    `json:"id" db:"id"`
	Address        string    `json:"address" db:"address"`
	Label          string    `json:"label" db:"label"`
	VisitRequestID *string   `json:"visitRequestId,omitempty" db:"visit_request_id"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// CreateApprovedIPRequest is the request body for adding an approved IP directly.
type CreateApprovedIPRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}
