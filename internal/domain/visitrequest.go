package domain

import "time"

// VisitRequestStatus is the approval state of a visit request.
type VisitRequestStatus string

const (
	VisitPending  VisitRequestStatus = "pending"
	VisitApproved VisitRequestStatus = "approved"
	VisitRejected VisitRequestStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s VisitRequestStatus) Valid() bool {
	switch s {
	case VisitPending, VisitApproved, VisitRejected:
		return true
	}
	return false
}

// VisitRequest asks an administrator to let an IP through while maintenance is on.
type VisitRequest struct {
	ID        string             `json:"id" db:"id"`
	Name      string             `json:"name" db:"name"`
	IPAddress string             `json:"ipAddress" db:"ip_address"`
	Status    VisitRequestStatus `json:"status" db:"status"`
	CreatedAt time.Time          `json:"createdAt" db:"created_at"`
	DecidedAt *time.Time         `json:"decidedAt,omitempty" db:"decided_at"`
	DecidedBy *string            `json:"decidedBy,omitempty" db:"decided_by"`
}

// CreateVisitRequest is the request body for POST /maintenance/request-visit.
type CreateVisitRequest struct {
	Name      string `json:"name"`
	IPAddress string `json:"ipAddress"`
}
