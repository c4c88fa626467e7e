package dto

import "time"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type SpoiledCodeInput struct {
	// Code is the printed unit code of the damaged label.
	Code string `json:"code" validate:"required,min=1"`
	// ReplacementCode optionally pre-assigns the buffer to use.
	ReplacementCode *string `json:"replacement_code" validate:"omitempty,min=1"`
}

type CreateReverseJobRequest struct {
	BatchID      string             `json:"batch_id"      validate:"required,uuid"`
	CaseNumber   int                `json:"case_number"   validate:"required,min=1"`
	SpoiledCodes []SpoiledCodeInput `json:"spoiled_codes" validate:"required,min=1,dive"`
}

type ReverseJobFilter struct {
	BatchID string `form:"batch_id" validate:"omitempty,uuid"`
	Status  string `form:"status"   validate:"omitempty,oneof=pending processing completed partial failed cancelled all"`
	Page    int    `form:"page"`
	Limit   int    `form:"limit"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type ReverseJobItemResponse struct {
	ID                string     `json:"id"`
	SpoiledCodeID     string     `json:"spoiled_code_id"`
	SpoiledSequenceNo int        `json:"spoiled_sequence_no"`
	ReplacementCodeID *string    `json:"replacement_code_id"`
	PreAssigned       bool       `json:"pre_assigned"`
	Status            string     `json:"status"`
	ProcessedAt       *time.Time `json:"processed_at"`
}

type ReverseJobLogResponse struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ReverseJobResponse struct {
	ID                string                   `json:"id"`
	BatchID           string                   `json:"batch_id"`
	CaseNumber        int                      `json:"case_number"`
	MasterCodeID      string                   `json:"master_code_id"`
	Status            string                   `json:"status"`
	TotalSpoiled      int                      `json:"total_spoiled"`
	TotalReplacements int                      `json:"total_replacements"`
	FinalUnitCount    *int                     `json:"final_unit_count"`
	ErrorMessage      *string                  `json:"error_message"`
	CreatedAt         time.Time                `json:"created_at"`
	StartedAt         *time.Time               `json:"started_at"`
	CompletedAt       *time.Time               `json:"completed_at"`
	CancelledAt       *time.Time               `json:"cancelled_at"`
	Items             []ReverseJobItemResponse `json:"items,omitempty"`
	Logs              []ReverseJobLogResponse  `json:"logs,omitempty"`
}

type ReverseJobListResponse struct {
	Data  []ReverseJobResponse `json:"data"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// ProcessResult reports what one worker invocation did.
type ProcessResult struct {
	Idle    bool   `json:"idle"`
	Claimed bool   `json:"claimed"`
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type DeleteJobResponse struct {
	JobID           string `json:"job_id"`
	BuffersReverted int    `json:"buffers_reverted"`
	SpoiledRestored int    `json:"spoiled_restored"`
}

type BulkDeleteResponse struct {
	JobsDeleted     int      `json:"jobs_deleted"`
	BuffersReverted int      `json:"buffers_reverted"`
	Failed          []string `json:"failed,omitempty"`
}

type CaseProgress struct {
	CaseNumber  int    `json:"case_number"`
	LatestJobID string `json:"latest_job_id"`
	Status      string `json:"status"`
}

type BatchProgressResponse struct {
	BatchID           string           `json:"batch_id"`
	JobsByStatus      map[string]int64 `json:"jobs_by_status"`
	TotalJobs         int64            `json:"total_jobs"`
	TotalSpoiled      int              `json:"total_spoiled"`
	TotalReplacements int              `json:"total_replacements"`
	BuffersAvailable  int64            `json:"buffers_available"`
	Cases             []CaseProgress   `json:"cases"`
}
