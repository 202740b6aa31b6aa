package dto

import "github.com/cuongbtq/ucloud-orchestrator/internal/domain"

type StatusCallback struct {
	JobID  string `json:"jobId" binding:"required"`
	Status string `json:"status" binding:"required"`
}

type StateChangeCallback struct {
	JobID    string          `json:"jobId" binding:"required"`
	NewState domain.JobState `json:"newState" binding:"required"`
	Message  string          `json:"message"`
}

type CompletedCallback struct {
	JobID    string                 `json:"jobId" binding:"required"`
	Duration *domain.SimpleDuration `json:"duration"`
	Success  bool                   `json:"success"`
}

type ChargeItem struct {
	JobID        string                `json:"jobId" binding:"required"`
	ChargeID     string                `json:"chargeId" binding:"required"`
	WallDuration domain.SimpleDuration `json:"wallDuration"`
}

type ChargeCallback struct {
	Items []ChargeItem `json:"items" binding:"required,dive"`
}

type ChargeResponse struct {
	InsufficientFunds []string `json:"insufficientFunds"`
	Duplicates        []string `json:"duplicates"`
}

// CallbackAck is returned for every accepted callback. Applied is false when the callback
// was discarded.
type CallbackAck struct {
	Applied bool `json:"applied"`
}

type FileSubmitResponse struct {
	Path string `json:"path"`
}
