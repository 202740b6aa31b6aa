package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/gin-gonic/gin"
)

// ProjectHeader selects the project context of a user request.
const ProjectHeader = "X-Project-Id"

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(token string) (domain.Actor, error)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func deny(c *gin.Context, logger *slog.Logger, status int, message string) {
	logger.Warn("Request denied",
		slog.String("path", c.Request.URL.Path),
		slog.String("client_ip", c.ClientIP()),
		slog.String("reason", message),
	)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func authenticate(c *gin.Context, v Verifier, logger *slog.Logger) (domain.Actor, bool) {
	token := bearerToken(c.Request)
	if token == "" {
		deny(c, logger, http.StatusUnauthorized, "missing bearer token")
		return domain.Actor{}, false
	}
	actor, err := v.Verify(token)
	if err != nil {
		deny(c, logger, apperrors.HTTPStatus(err), apperrors.PublicMessage(err))
		return domain.Actor{}, false
	}
	return actor, true
}

func store(c *gin.Context, actor domain.Actor) {
	c.Request = c.Request.WithContext(ContextWithActor(c.Request.Context(), actor))
	c.Set("actor", actor.Username)
	c.Next()
}

// RequireActor authenticates end users and services. The project header overrides the
// project claim; membership is checked by the operation.
func RequireActor(v Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authenticate(c, v, logger)
		if !ok {
			return
		}
		if actor.IsProvider() {
			deny(c, logger, http.StatusForbidden, "provider principals cannot use this endpoint")
			return
		}
		if project := strings.TrimSpace(c.GetHeader(ProjectHeader)); project != "" {
			actor.Project = project
		}
		store(c, actor)
	}
}

// RequireProvider authenticates provider principals for the callback API.
func RequireProvider(v Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authenticate(c, v, logger)
		if !ok {
			return
		}
		if !actor.IsProvider() {
			deny(c, logger, http.StatusForbidden, "provider principal required")
			return
		}
		store(c, actor)
	}
}
