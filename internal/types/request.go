package types

import "time"

// RequestStatus is the lifecycle status of a Request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestValidating RequestStatus = "validating"
	RequestApproved   RequestStatus = "approved"
	RequestRejected   RequestStatus = "rejected"
	RequestExecuting  RequestStatus = "executing"
	RequestExecuted   RequestStatus = "executed"
	RequestFailed     RequestStatus = "failed"
)

// OperationType categorizes what kind of upstream call a Request makes.
type OperationType string

const (
	OperationChat       OperationType = "chat"
	OperationCompletion OperationType = "completion"
	OperationVision     OperationType = "vision"
	OperationEmbedding  OperationType = "embedding"
	OperationSpeech     OperationType = "speech"
	OperationImage      OperationType = "image"
)

// Request is the immutable intake record for one API invocation.
// Fields below the horizontal line are populated as the request moves
// through the pipeline; once Status reaches a terminal value no field
// mutates again.
type Request struct {
	RequestID       string            `json:"request_id"`
	PrincipalID     string            `json:"principal_id"`
	ProjectID       string            `json:"project_id"`
	AgentID         string            `json:"agent_id,omitempty"`
	Provider        string            `json:"provider"`
	Model           string            `json:"model"`
	Operation       OperationType     `json:"operation"`
	Params          map[string]any    `json:"params,omitempty"`
	EstimatedTokens int               `json:"estimated_tokens,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	EstimatedCost float64       `json:"estimated_cost,omitempty"`
	ActualCost    float64       `json:"actual_cost,omitempty"`
	Status        RequestStatus `json:"status"`
}

// WithGeneratedID returns a copy of r with RequestID populated when empty.
func (r Request) WithGeneratedID() Request {
	if r.RequestID == "" {
		r.RequestID = NewID("req")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
	return r
}
