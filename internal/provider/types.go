// Package provider talks to the independently operated backends that run jobs.
package provider

import (
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// BulkRequest wraps every provider request body.
type BulkRequest[T any] struct {
	Items []T `json:"items"`
}

// BulkResponse wraps provider responses that answer item by item.
type BulkResponse[T any] struct {
	Responses []T `json:"responses"`
}

// CreatedJob is the provider's answer to one created job.
type CreatedJob struct {
	ProviderJobID string `json:"providerJobId,omitempty"`
}

// ExtendRequest asks for more wall time for a job.
type ExtendRequest struct {
	Job           *domain.Job           `json:"job"`
	RequestedTime domain.SimpleDuration `json:"requestedTime"`
}

// JobReport is a provider's authoritative view of one job.
type JobReport struct {
	JobID   string          `json:"jobId"`
	Known   bool            `json:"known"`
	State   domain.JobState `json:"state,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Utilization is the provider's current capacity usage.
type Utilization struct {
	Capacity   domain.Product `json:"capacity"`
	InUse      domain.Product `json:"usedCapacity"`
	QueuedJobs int            `json:"queuedJobs"`
	ActiveJobs int            `json:"activeJobs"`
}

// SessionType is the kind of interactive session requested.
type SessionType string

const (
	SessionShell SessionType = "SHELL"
	SessionVNC   SessionType = "VNC"
	SessionWeb   SessionType = "WEB"
)

type SessionRequest struct {
	Job         *domain.Job `json:"job"`
	Rank        int         `json:"rank"`
	SessionType SessionType `json:"sessionType"`
}

// Session describes where the user connects to an interactive session.
type Session struct {
	SessionType SessionType `json:"sessionType"`
	JobID       string      `json:"jobId"`
	Rank        int         `json:"rank"`
	RedirectURL string      `json:"redirectUrl,omitempty"`
	SessionID   string      `json:"sessionIdentifier,omitempty"`
}

// LogMessage is one frame of a follow stream.
type LogMessage struct {
	Rank      int       `json:"rank"`
	Stdout    string    `json:"stdout,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogStream yields follow messages until io.EOF.
type LogStream interface {
	Next() (LogMessage, error)
	Close() error
}

type followRequest struct {
	Type string      `json:"type"`
	Job  *domain.Job `json:"job"`
	Rank int         `json:"rank"`
}
