// Package altifyapi holds the wire DTOs for Ingress's HTTP surface and the
// DLQ admin endpoints. Shaped after pkg/daefapi/types.go's flat,
// string-timestamped JSON structs.
package altifyapi

type UploadResponse struct {
	TaskID string `json:"task_id"`
}

// BulkUploadItemResult reports one item's per-item outcome, per spec §4.1's
// "partial failure semantics" for BulkUpload.
type BulkUploadItemResult struct {
	Index  int    `json:"index"`
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type BulkUploadResponse struct {
	Tasks []BulkUploadItemResult `json:"tasks"`
}

type TaskView struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	ContextText    string  `json:"context_text"`
	Alt1           *string `json:"alt1,omitempty"`
	Alt2           *string `json:"alt2,omitempty"`
	SelectedIndex  *int    `json:"selected_index,omitempty"`
	FinalAlt       *string `json:"final_alt,omitempty"`
	IsApproved     bool    `json:"is_approved"`
	Attempts       int     `json:"attempts"`
	LastError      *string `json:"last_error,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// ApproveRequest is the PATCH /v1/tasks/{id}/approve body. Approve requires
// status=DONE and fails with PreconditionFailed otherwise (spec §4.1).
type ApproveRequest struct {
	SelectedIndex int    `json:"selected_alt_index"`
	FinalAlt      string `json:"final_alt"`
}

// FinalizeItem is one entry of the POST /v1/tasks/finalize body (spec §6):
// batched approval, same preconditions as ApproveRequest but addressed by
// task_id instead of a path segment.
type FinalizeItem struct {
	TaskID        string `json:"task_id"`
	SelectedIndex int    `json:"selected_alt_index"`
	FinalAlt      string `json:"final_alt"`
}

// FinalizeItemResult reports one item's outcome, mirroring
// BulkUploadItemResult's partial-failure shape.
type FinalizeItemResult struct {
	TaskID string    `json:"task_id"`
	Task   *TaskView `json:"task,omitempty"`
	Error  string    `json:"error,omitempty"`
}

type FinalizeResponse struct {
	Results []FinalizeItemResult `json:"results"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type DeadLetterView struct {
	ID       string `json:"id"`
	LastErr  string `json:"last_error"`
	Attempts int    `json:"attempts"`
}

type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterView `json:"dead_letters"`
}

type RequeueDeadLettersRequest struct {
	IDs          []string `json:"ids"`
	ConfirmToken string   `json:"confirm_token,omitempty"`
}

type RequeueDeadLettersResponse struct {
	Requested int `json:"requested"`
	Requeued  int `json:"requeued"`
}

type AutoscaleStatusResponse struct {
	QueueDepth     int `json:"queue_depth"`
	ActiveWorkers  int `json:"active_workers"`
	DesiredWorkers int `json:"desired_workers"`
	MinWorkers     int `json:"min_workers"`
	MaxWorkers     int `json:"max_workers"`
	CooldownActive bool `json:"cooldown_active"`
}
