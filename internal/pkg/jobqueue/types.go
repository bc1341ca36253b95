package jobqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeOrderEvent           JobType = "order_event"
	JobTypeGrantPeriodicCredits JobType = "grant_periodic_credits"
	JobTypeExpireDue            JobType = "expire_due"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// OrderEventJobPayload points at a stored inbox row.
type OrderEventJobPayload struct {
	EventID uint `json:"event_id"`
}

func (p OrderEventJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"event_id": p.EventID,
	}
}

func OrderEventJobPayloadFromMap(data map[string]interface{}) (*OrderEventJobPayload, error) {
	var payload OrderEventJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	if payload.EventID == 0 {
		return nil, fmt.Errorf("order event job without event_id")
	}
	return &payload, nil
}

// PeriodicCreditsJobPayload selects the calendar day (UTC, YYYY-MM-DD) whose
// period starts get their monthly grant. Empty means today.
type PeriodicCreditsJobPayload struct {
	Date string `json:"date,omitempty"`
}

func (p PeriodicCreditsJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{}
	if p.Date != "" {
		m["date"] = p.Date
	}
	return m
}

func PeriodicCreditsJobPayloadFromMap(data map[string]interface{}) (*PeriodicCreditsJobPayload, error) {
	var payload PeriodicCreditsJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	if payload.Date != "" {
		if _, err := time.Parse(DateLayout, payload.Date); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", payload.Date, err)
		}
	}
	return &payload, nil
}

// AsOf resolves the payload date against now.
func (p PeriodicCreditsJobPayload) AsOf(now time.Time) time.Time {
	if p.Date == "" {
		return now.UTC()
	}
	day, err := time.Parse(DateLayout, p.Date)
	if err != nil {
		return now.UTC()
	}
	return day.UTC()
}

// DateLayout is the calendar day format used in job payloads and CLIs.
const DateLayout = "2006-01-02"

func decodePayload(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed records the error and counts the attempt.
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
