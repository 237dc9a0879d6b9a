package domain

import "time"

// ApproverType selects how a stage resolves its approver.
type ApproverType string

const (
	ApproverTypeUser ApproverType = "user"
	ApproverTypeRole ApproverType = "role"
	ApproverTypeTeam ApproverType = "team"
)

// ApprovalStage is one ordered step of a form's approval gate.
type ApprovalStage struct {
	ID           string
	FormID       string
	Order        int
	Name         string
	ApproverType ApproverType
	ApproverID   string
	ApproverRole string
}

// ApprovalRequestStatus tracks a single stage decision.
type ApprovalRequestStatus string

const (
	ApprovalRequestPending  ApprovalRequestStatus = "pending"
	ApprovalRequestApproved ApprovalRequestStatus = "approved"
	ApprovalRequestRejected ApprovalRequestStatus = "rejected"
)

// ApprovalDecision is the answer an approver gives.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approved"
	DecisionReject  ApprovalDecision = "rejected"
)

func (d ApprovalDecision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ApprovalRequest is created per (ticket, stage). RequestedAt stays nil while
// the stage is dormant.
type ApprovalRequest struct {
	ID          string
	TicketID    string
	StageID     string
	StageOrder  int
	Status      ApprovalRequestStatus
	ApproverID  *string
	Comments    string
	RequestedAt *time.Time
	RespondedAt *time.Time
	CreatedAt   time.Time
}

// IsCurrent reports whether the request is the active pending stage.
func (r ApprovalRequest) IsCurrent() bool {
	return r.Status == ApprovalRequestPending && r.RequestedAt != nil
}
