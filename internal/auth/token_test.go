package auth

import (
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner(testSecret, "ucloud", time.Minute)

	tests := []struct {
		name  string
		actor domain.Actor
		want  domain.Actor
	}{
		{
			name:  "user",
			actor: domain.Actor{Username: "alice", Role: domain.RoleUser, Project: "p1"},
			want:  domain.Actor{Username: "alice", Role: domain.RoleUser, Project: "p1"},
		},
		{
			name:  "provider",
			actor: ProviderActor("k8s"),
			want:  domain.Actor{Username: "#P_k8s", Role: domain.RoleProvider, ProviderID: "k8s"},
		},
		{
			name:  "service",
			actor: domain.SystemActor,
			want:  domain.SystemActor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, err := s.Sign(tt.actor)
			require.NoError(t, err)

			got, err := s.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSigner_RejectsBadTokens(t *testing.T) {
	s := NewSigner(testSecret, "ucloud", time.Minute)
	other := NewSigner("ffffffffffffffffffffffffffffffff", "ucloud", time.Minute)

	forged, _, err := other.Sign(domain.Actor{Username: "alice", Role: domain.RoleUser})
	require.NoError(t, err)

	expiredSigner := NewSigner(testSecret, "ucloud", time.Minute)
	expiredSigner.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := expiredSigner.Sign(domain.Actor{Username: "alice", Role: domain.RoleUser})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"malformed": "not-a-token",
		"forged":    forged,
		"expired":   expired,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
		})
	}
}

func TestSigner_ProviderClaimMustMatchSubject(t *testing.T) {
	s := NewSigner(testSecret, "ucloud", time.Minute)
	token, _, err := s.Sign(domain.Actor{Username: "#P_k8s", Role: domain.RoleProvider, ProviderID: "slurm"})
	require.NoError(t, err)

	_, err = s.Verify(token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSigner_TokenSourceReusesToken(t *testing.T) {
	s := NewSigner(testSecret, "ucloud", time.Hour)
	src := s.TokenSource(domain.SystemActor)

	first, err := src.Token()
	require.NoError(t, err)
	second, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, second.AccessToken)
}
