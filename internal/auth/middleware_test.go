package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(mw gin.HandlerFunc, seen *domain.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", mw, func(c *gin.Context) {
		*seen, _ = ActorFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireActor(t *testing.T) {
	s := NewSigner(testSecret, "ucloud", time.Minute)
	userToken, _, err := s.Sign(domain.Actor{Username: "alice", Role: domain.RoleUser})
	require.NoError(t, err)
	providerToken, _, err := s.Sign(ProviderActor("k8s"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		project    string
		wantStatus int
		wantActor  domain.Actor
	}{
		{"missing token", "", "", http.StatusUnauthorized, domain.Actor{}},
		{"user", userToken, "", http.StatusNoContent, domain.Actor{Username: "alice", Role: domain.RoleUser}},
		{"project header", userToken, "p1", http.StatusNoContent, domain.Actor{Username: "alice", Role: domain.RoleUser, Project: "p1"}},
		{"provider refused", providerToken, "", http.StatusForbidden, domain.Actor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen domain.Actor
			r := newEngine(RequireActor(s, logger.Discard()), &seen)

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			if tt.project != "" {
				req.Header.Set(ProjectHeader, tt.project)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantActor, seen)
		})
	}
}

func TestRequireProvider(t *testing.T) {
	s := NewSigner(testSecret, "ucloud", time.Minute)
	userToken, _, _ := s.Sign(domain.Actor{Username: "alice", Role: domain.RoleUser})
	providerToken, _, _ := s.Sign(ProviderActor("k8s"))

	var seen domain.Actor
	r := newEngine(RequireProvider(s, logger.Discard()), &seen)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+providerToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "k8s", seen.ProviderID)
}
