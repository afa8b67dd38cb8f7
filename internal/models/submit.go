package models

// SubmitRequest is the payload for creating a new job
type SubmitRequest struct {
	SessionID string                 `json:"session_id" validate:"required"`
	Category  string                 `json:"category" validate:"required"`
	Provider  string                 `json:"provider" validate:"omitempty,oneof=claude gemini"`
	Input     string                 `json:"input" validate:"required"`
	Priority  int                    `json:"priority" validate:"gte=0,lte=100"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// JobListFilter narrows ListJobs results. Zero values mean "no filter".
type JobListFilter struct {
	SessionID      string
	Category       string
	Status         JobStatus
	IncludeCleared bool
	Limit          int
}

// QueueStats is a point-in-time snapshot of scheduler state
type QueueStats struct {
	QueueDepth     int            `json:"queue_depth"`
	Running        int            `json:"running"`
	GlobalLimit    int            `json:"global_limit"`
	PerSession     map[string]int `json:"per_session"`
	PerCategory    map[string]int `json:"per_category"`
	TotalSubmitted uint64         `json:"total_submitted"`
	TotalCompleted uint64         `json:"total_completed"`
	TotalFailed    uint64         `json:"total_failed"`
	TotalCanceled  uint64         `json:"total_canceled"`
}
