package models

import "time"

// ScanStatus represents the lifecycle state of a ScanJob.
type ScanStatus string

const (
	ScanStatusQueued     ScanStatus = "queued"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

// IsTerminal reports whether the status will never change again.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// ScanJob is one submitted website scan, from admission through completion.
type ScanJob struct {
	ScanID               string     `json:"scan_id"`
	TargetURL            string     `json:"target_url"`
	Email                string     `json:"email,omitempty"`
	Status               ScanStatus `json:"status"`
	SubmitterIP          string     `json:"submitter_ip,omitempty"`
	SubmissionCount      int        `json:"submission_count"`
	PriorityScore        int64      `json:"priority_score"`
	ConvertToWebP        bool       `json:"convert_to_webp"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	PagesScanned         int        `json:"pages_scanned"`
	PagesDiscovered      int        `json:"pages_discovered"`
	NonWebPImagesFound   int        `json:"non_webp_images_found"`
	ReachedPageLimit     bool       `json:"reached_page_limit"`
	ErrorMessage         string     `json:"error_message,omitempty"`
}

// Enqueued reports whether the job is still waiting for a worker.
func (j *ScanJob) Enqueued() bool {
	return j.Status == ScanStatusQueued
}

// MarkStarted transitions the job to Processing and stamps StartedAt.
func (j *ScanJob) MarkStarted(now time.Time) {
	j.Status = ScanStatusProcessing
	j.StartedAt = &now
}

// MarkTerminal transitions the job to a terminal status and stamps CompletedAt.
func (j *ScanJob) MarkTerminal(status ScanStatus, now time.Time, errMsg string) {
	j.Status = status
	j.CompletedAt = &now
	j.ErrorMessage = errMsg
}

// ScanJobFilter narrows a listing query against the scan-job store.
type ScanJobFilter struct {
	Status      ScanStatus
	SubmitterIP string
	Limit       int
	Offset      int
}
