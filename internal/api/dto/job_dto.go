package dto

import (
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

type SubmitJobRequest struct {
	Name           string                 `json:"name"`
	Application    domain.ApplicationRef  `json:"application"`
	Product        domain.ProductRef      `json:"product"`
	Replicas       int                    `json:"replicas"`
	TimeAllocation *domain.SimpleDuration `json:"timeAllocation"`
	Parameters     domain.Parameters      `json:"parameters"`
	Resources      domain.Resources       `json:"resources"`
	// AcceptSameDataRetry skips the duplicate submission guard.
	AcceptSameDataRetry bool `json:"acceptSameDataRetry"`
}

func (r SubmitJobRequest) Specification() domain.JobSpecification {
	replicas := r.Replicas
	if replicas == 0 {
		replicas = 1
	}
	return domain.JobSpecification{
		Name:              r.Name,
		Application:       r.Application,
		Product:           r.Product,
		Replicas:          replicas,
		TimeAllocation:    r.TimeAllocation,
		Parameters:        r.Parameters,
		Resources:         r.Resources,
		AllowDuplicateJob: r.AcceptSameDataRetry,
	}
}

type ListJobsRequest struct {
	Owner         string   `form:"owner"`
	Project       string   `form:"project"`
	Application   string   `form:"application"`
	States        []string `form:"state"`
	CreatedAfter  string   `form:"created_after"`
	CreatedBefore string   `form:"created_before"`
	PageSize      int      `form:"page_size"`
	Cursor        string   `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID            string                  `json:"id"`
	Owner         domain.Owner            `json:"owner"`
	Specification domain.JobSpecification `json:"specification"`
	Status        domain.JobStatus        `json:"status"`
	Updates       []domain.JobUpdate      `json:"updates"`
	CreatedAt     string                  `json:"created_at"`
	UpdatedAt     string                  `json:"updated_at"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		ID:            job.ID,
		Owner:         job.Owner,
		Specification: job.Specification,
		Status:        job.Status,
		Updates:       job.Updates,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
}

type ExtendJobRequest struct {
	RequestedTime domain.SimpleDuration `json:"requestedTime"`
}

type InteractiveSessionRequest struct {
	Rank        int    `json:"rank"`
	SessionType string `json:"sessionType" binding:"required"`
}

type TaskDTO struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
	UpdatedAt string `json:"updated_at"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
