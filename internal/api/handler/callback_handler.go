package handler

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/ucloud-orchestrator/internal/api/dto"
	"github.com/cuongbtq/ucloud-orchestrator/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

// Headers of a file submission. Values are base64 encoded.
const (
	HeaderSubmitJobID      = "JobSubmit-Id"
	HeaderSubmitPath       = "JobSubmit-Path"
	HeaderSubmitExtraction = "JobSubmit-Extraction"
)

// Status handles POST /api/v1/callbacks/jobs/status
func (h *CallbackHandler) Status(c *gin.Context) {
	var req dto.StatusCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	applied, err := h.orc.AddStatus(c.Request.Context(), actorFrom(c).ProviderID, req.JobID, req.Status)
	h.ack(c, applied, err)
}

// StateChange handles POST /api/v1/callbacks/jobs/state-change
func (h *CallbackHandler) StateChange(c *gin.Context) {
	var req dto.StateChangeCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	applied, err := h.orc.ProposeStateChange(c.Request.Context(), actorFrom(c).ProviderID, req.JobID, req.NewState, req.Message)
	h.ack(c, applied, err)
}

// Completed handles POST /api/v1/callbacks/jobs/completed
func (h *CallbackHandler) Completed(c *gin.Context) {
	var req dto.CompletedCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	applied, err := h.orc.Complete(c.Request.Context(), actorFrom(c).ProviderID, req.JobID, req.Duration, req.Success)
	h.ack(c, applied, err)
}

// Charge handles POST /api/v1/callbacks/jobs/charge
func (h *CallbackHandler) Charge(c *gin.Context) {
	var req dto.ChargeCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	items := make([]orchestrator.ChargeItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = orchestrator.ChargeItem{
			JobID:        item.JobID,
			ChargeID:     item.ChargeID,
			WallDuration: item.WallDuration.Duration(),
		}
	}
	report, err := h.orc.Charge(c.Request.Context(), actorFrom(c).ProviderID, items)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.ChargeResponse{
		InsufficientFunds: report.InsufficientFunds,
		Duplicates:        report.Duplicates,
	})
}

// Submit handles POST /api/v1/callbacks/jobs/submit. The body is the raw file and must
// declare its length.
func (h *CallbackHandler) Submit(c *gin.Context) {
	// net/http reports a request without the header as ContentLength 0, not -1.
	if c.GetHeader("Content-Length") == "" || c.Request.ContentLength < 0 {
		h.logger.Warn("File submission without Content-Length",
			slog.String("provider", actorFrom(c).ProviderID),
		)
		c.JSON(http.StatusLengthRequired, dto.ErrorResponse{Error: "Content-Length is required"})
		return
	}

	jobID, err := decodeHeader(c, HeaderSubmitJobID)
	if err != nil {
		badRequest(c, h.logger, "Invalid file submission headers", err)
		return
	}
	path, err := decodeHeader(c, HeaderSubmitPath)
	if err != nil {
		badRequest(c, h.logger, "Invalid file submission headers", err)
		return
	}
	extract := false
	if c.GetHeader(HeaderSubmitExtraction) != "" {
		raw, err := decodeHeader(c, HeaderSubmitExtraction)
		if err == nil {
			extract, err = strconv.ParseBool(raw)
		}
		if err != nil {
			badRequest(c, h.logger, "Invalid file submission headers", err)
			return
		}
	}

	target, err := h.orc.HandleIncomingFile(c.Request.Context(), actorFrom(c).ProviderID, jobID, path, extract, c.Request.Body, c.Request.ContentLength)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FileSubmitResponse{Path: target})
}

// Lookup handles GET /api/v1/callbacks/jobs/lookup/:job_id
func (h *CallbackHandler) Lookup(c *gin.Context) {
	verified, err := h.orc.Lookup(c.Request.Context(), actorFrom(c).ProviderID, c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, verified)
}

// ack answers a callback. Discarded callbacks are still acknowledged with 200.
func (h *CallbackHandler) ack(c *gin.Context, applied bool, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.CallbackAck{Applied: applied})
}

func decodeHeader(c *gin.Context, name string) (string, error) {
	raw := c.GetHeader(name)
	if raw == "" {
		return "", fmt.Errorf("missing %s header", name)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%s is not base64: %w", name, err)
	}
	return string(decoded), nil
}
