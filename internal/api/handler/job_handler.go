package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/api/dto"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/cuongbtq/ucloud-orchestrator/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SubmitJob handles POST /api/v1/jobs
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	actor := actorFrom(c)
	job, err := h.orc.Submit(c.Request.Context(), actor, req.Specification())
	if err != nil {
		h.logger.Info("Job submission rejected",
			slog.String("actor", actor.Username),
			slog.String("application", req.Application.Name),
			slog.String("error", err.Error()),
		)
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.query.Get(c.Request.Context(), actorFrom(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	q := query.Request{
		Owner:       req.Owner,
		Project:     req.Project,
		Application: req.Application,
		PageSize:    req.PageSize,
		Cursor:      req.Cursor,
	}
	for _, s := range req.States {
		q.States = append(q.States, domain.JobState(s))
	}
	var err error
	if q.CreatedAfter, err = parseTime(req.CreatedAfter); err != nil {
		badRequest(c, h.logger, "Invalid created_after", err)
		return
	}
	if q.CreatedBefore, err = parseTime(req.CreatedBefore); err != nil {
		badRequest(c, h.logger, "Invalid created_before", err)
		return
	}

	page, err := h.query.List(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	jobs := make([]dto.JobDTO, len(page.Jobs))
	for i, job := range page.Jobs {
		jobs[i] = dto.NewJobDTO(job)
	}
	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: page.NextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.orc.Cancel(c.Request.Context(), actorFrom(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ExtendJob handles POST /api/v1/jobs/:job_id/extend
func (h *JobHandler) ExtendJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	var req dto.ExtendJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	job, err := h.orc.Extend(c.Request.Context(), actorFrom(c), jobID, req.RequestedTime)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ResumeJob handles POST /api/v1/jobs/:job_id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.orc.Resume(c.Request.Context(), actorFrom(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// OpenInteractiveSession handles POST /api/v1/jobs/:job_id/interactive
func (h *JobHandler) OpenInteractiveSession(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	var req dto.InteractiveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	session, err := h.orc.OpenInteractiveSession(c.Request.Context(), actorFrom(c), jobID, req.Rank, provider.SessionType(req.SessionType))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetTask handles GET /api/v1/jobs/:job_id/task
func (h *JobHandler) GetTask(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	task, err := h.query.Task(c.Request.Context(), actorFrom(c), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskDTO{
		JobID:     task.JobID,
		State:     task.State,
		Message:   task.Message,
		Progress:  task.Progress,
		UpdatedAt: task.UpdatedAt.Format(time.RFC3339),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// FollowJob handles GET /api/v1/jobs/:job_id/follow. The connection is upgraded to a
// WebSocket that relays the provider's log messages.
func (h *JobHandler) FollowJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	rank, err := strconv.Atoi(c.DefaultQuery("rank", "0"))
	if err != nil {
		badRequest(c, h.logger, "Invalid rank", err)
		return
	}

	ctx := c.Request.Context()
	stream, err := h.orc.Follow(ctx, actorFrom(c), jobID, rank)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer stream.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade follow connection",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	go func() {
		// Reads only detect the client going away.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				stream.Close()
				return
			}
		}
	}()

	for {
		msg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of log"))
			return
		}
		if err != nil {
			h.logger.Debug("Follow stream ended",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
