package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/ucloud-orchestrator/internal/api/dto"
	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/auth"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/orchestrator"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/cuongbtq/ucloud-orchestrator/internal/query"
	"github.com/gin-gonic/gin"
)

// Orchestrator is the job lifecycle as seen by the HTTP layer.
type Orchestrator interface {
	Submit(ctx context.Context, actor domain.Actor, spec domain.JobSpecification) (*domain.Job, error)
	Cancel(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error)
	Extend(ctx context.Context, actor domain.Actor, jobID string, extra domain.SimpleDuration) (*domain.Job, error)
	Resume(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error)
	OpenInteractiveSession(ctx context.Context, actor domain.Actor, jobID string, rank int, sessionType provider.SessionType) (*provider.Session, error)
	Follow(ctx context.Context, actor domain.Actor, jobID string, rank int) (provider.LogStream, error)

	AddStatus(ctx context.Context, providerID, jobID, message string) (bool, error)
	ProposeStateChange(ctx context.Context, providerID, jobID string, next domain.JobState, message string) (bool, error)
	Complete(ctx context.Context, providerID, jobID string, duration *domain.SimpleDuration, success bool) (bool, error)
	Charge(ctx context.Context, providerID string, items []orchestrator.ChargeItem) (orchestrator.ChargeReport, error)
	HandleIncomingFile(ctx context.Context, providerID, jobID, path string, extract bool, body io.Reader, size int64) (string, error)
	Lookup(ctx context.Context, providerID, jobID string) (*domain.VerifiedJob, error)
}

// Query is the read side of the job API.
type Query interface {
	List(ctx context.Context, actor domain.Actor, req query.Request) (*query.Page, error)
	Get(ctx context.Context, actor domain.Actor, jobID string) (*domain.Job, error)
	Task(ctx context.Context, actor domain.Actor, jobID string) (*domain.TaskRecord, error)
}

// Providers exposes provider capacity and catalog.
type Providers interface {
	Manifest(ctx context.Context, providerID string) (domain.ProviderManifest, error)
	Utilization(ctx context.Context, providerID string) (*provider.Utilization, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator Orchestrator
	Query        Query
	Providers    Providers
}

// JobHandler handles user job requests
type JobHandler struct {
	logger *slog.Logger
	orc    Orchestrator
	query  Query
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		orc:    deps.Orchestrator,
		query:  deps.Query,
	}
}

// CallbackHandler handles provider callbacks
type CallbackHandler struct {
	logger *slog.Logger
	orc    Orchestrator
}

func NewCallbackHandler(deps *Dependencies) *CallbackHandler {
	return &CallbackHandler{
		logger: deps.Logger,
		orc:    deps.Orchestrator,
	}
}

// ProviderHandler serves provider information to users
type ProviderHandler struct {
	logger    *slog.Logger
	providers Providers
}

func NewProviderHandler(deps *Dependencies) *ProviderHandler {
	return &ProviderHandler{
		logger:    deps.Logger,
		providers: deps.Providers,
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	actor, _ := auth.ActorFromContext(c.Request.Context())
	return actor
}

// respondError writes err as JSON. Unexpected errors are logged and hidden from the client.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("job_id", c.Param("job_id")),
			slog.String("error", err.Error()),
		)
	}
	resp := dto.ErrorResponse{Error: apperrors.PublicMessage(err)}
	if reason, ok := apperrors.ReasonOf(err); ok {
		resp.Reason = string(reason)
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, logger *slog.Logger, message string, err error) {
	logger.Warn(message, slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: message + ": " + err.Error()})
}
