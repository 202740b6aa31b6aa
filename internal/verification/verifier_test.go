package verification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/files"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider/providertest"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage/memstore"
	"github.com/cuongbtq/ucloud-orchestrator/internal/testutil"
	"github.com/cuongbtq/ucloud-orchestrator/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	store   *memstore.Store
	objects *files.MemoryStore
	fake    *providertest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.PutApplication(testutil.AlphaApplication())
	withdrawn := testutil.AlphaApplication()
	withdrawn.Version = "0.9"
	withdrawn.Withdrawn = true
	store.PutApplication(withdrawn)
	store.PutProduct(testutil.StandardProduct())
	store.SetWallet(domain.Wallet{ID: "user:alice", Balance: 1000})

	objects := files.NewMemoryStore()
	fake := providertest.New()
	fake.SetManifest(testutil.Manifest())

	svc := New(Config{
		Catalog:   store,
		Jobs:      store,
		Resources: store,
		Wallets:   store,
		Files:     files.NewService(objects, store, logger.Discard()),
		Manifests: fake,
	})
	return &fixture{svc: svc, store: store, objects: objects, fake: fake}
}

var alice = domain.Actor{Username: "alice", Role: domain.RoleUser}

func TestVerify_Accepts(t *testing.T) {
	f := newFixture(t)
	content := "data"
	require.NoError(t, f.objects.Put(context.Background(), "home/alice/in.txt", strings.NewReader(content), int64(len(content)), ""))

	spec := testutil.Specification()
	spec.Parameters = domain.Parameters{
		"mode":  domain.TextValue{Value: "fast"},
		"input": domain.FileValue{Path: "/home/alice/in.txt"},
	}

	v, err := f.svc.Verify(context.Background(), alice, spec)
	require.NoError(t, err)

	assert.Equal(t, domain.Owner{CreatedBy: "alice"}, v.Job.Owner)
	assert.Equal(t, int64(600), v.EstimatedCost)
	assert.Equal(t, domain.EnumValue{Value: "fast"}, v.Parameters["mode"])
	assert.Equal(t, domain.IntValue{Value: 4}, v.Parameters["threads"], "default applied")
	require.Len(t, v.Mounts, 1)
	assert.Equal(t, "/home/alice/in.txt", v.Mounts[0].Path)
	assert.Equal(t, []string{"alpha", "--threads", "4", "fast", "/home/alice/in.txt"}, v.Arguments)
}

func TestVerify_DefaultTimeAllocation(t *testing.T) {
	f := newFixture(t)
	spec := testutil.Specification()
	spec.TimeAllocation = nil

	v, err := f.svc.Verify(context.Background(), alice, spec)
	require.NoError(t, err)
	require.NotNil(t, v.Job.Specification.TimeAllocation)
	assert.Equal(t, time.Hour, v.Job.Specification.TimeAllocation.Duration())
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*domain.JobSpecification)
		setup      func(*fixture)
		wantReason apperrors.Reason
		wantErr    error
	}{
		{
			name:       "unknown application",
			mutate:     func(s *domain.JobSpecification) { s.Application.Name = "beta" },
			wantReason: apperrors.ReasonUnknownApplication,
		},
		{
			name:       "withdrawn application",
			mutate:     func(s *domain.JobSpecification) { s.Application.Version = "0.9" },
			wantReason: apperrors.ReasonUnknownApplication,
		},
		{
			name:       "unknown product",
			mutate:     func(s *domain.JobSpecification) { s.Product.ID = "u1-huge" },
			wantReason: apperrors.ReasonProductNotSupported,
		},
		{
			name:       "product not in manifest",
			setup:      func(f *fixture) { f.fake.SetManifest(domain.ProviderManifest{ProviderID: testutil.ProviderID}) },
			wantReason: apperrors.ReasonProductNotSupported,
		},
		{
			name:       "unknown parameter",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["nope"] = domain.IntValue{Value: 1} },
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "integer above max",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["threads"] = domain.IntValue{Value: 65} },
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "wrong type",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["threads"] = domain.TextValue{Value: "4"} },
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "enum outside options",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["mode"] = domain.EnumValue{Value: "medium"} },
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "missing file",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["input"] = domain.FileValue{Path: "/home/alice/none"} },
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "foreign file",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["input"] = domain.FileValue{Path: "/home/bob/x"} },
			wantReason: apperrors.ReasonPermissionDenied,
		},
		{
			name: "bound resource",
			mutate: func(s *domain.JobSpecification) {
				s.Parameters["link"] = domain.ResourceValue{ResourceKind: domain.KindIngress, ID: "ing-1"}
			},
			setup: func(f *fixture) {
				require.NoError(t, f.store.BindResources(context.Background(), "other",
					[]domain.ResourceValue{{ResourceKind: domain.KindIngress, ID: "ing-1"}}))
			},
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "peer not found",
			mutate:     func(s *domain.JobSpecification) { s.Parameters["peer"] = domain.PeerValue{Hostname: "db", JobID: "missing"} },
			wantReason: apperrors.ReasonInvalidParameter,
		},
		{
			name:       "quota exceeded",
			mutate:     func(s *domain.JobSpecification) { s.TimeAllocation = &domain.SimpleDuration{Hours: 2} },
			wantReason: apperrors.ReasonQuotaExceeded,
		},
		{
			name:    "no replicas",
			mutate:  func(s *domain.JobSpecification) { s.Replicas = 0 },
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "zero time allocation",
			mutate:  func(s *domain.JobSpecification) { s.TimeAllocation = &domain.SimpleDuration{} },
			wantErr: apperrors.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			spec := testutil.Specification()
			if tt.mutate != nil {
				tt.mutate(&spec)
			}

			_, err := f.svc.Verify(context.Background(), alice, spec)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantReason != "" {
				var appErr *apperrors.Error
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.wantReason, appErr.Reason)
			}
		})
	}
}

func TestVerify_PeerMustBeRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	peer := &domain.Job{
		ID:     "peer-1",
		Owner:  domain.Owner{CreatedBy: "alice"},
		Status: domain.JobStatus{State: domain.JobStateInQueue},
	}
	require.NoError(t, f.store.CreateJob(ctx, peer))

	spec := testutil.Specification()
	spec.Parameters["peer"] = domain.PeerValue{Hostname: "db", JobID: "peer-1"}
	_, err := f.svc.Verify(ctx, alice, spec)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.store.UpdateJob(ctx, "peer-1", func(j *domain.Job) error {
		return j.Transition(domain.JobStateRunning, "", time.Now())
	})
	require.NoError(t, err)

	v, err := f.svc.Verify(ctx, alice, spec)
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerValue{{Hostname: "db", JobID: "peer-1"}}, v.Peers)
}

func TestRehydrate(t *testing.T) {
	f := newFixture(t)
	spec := testutil.Specification()
	spec.Parameters["threads"] = domain.IntValue{Value: 8}
	spec.Resources = domain.Resources{domain.ResourceValue{ResourceKind: domain.KindNetworkIP, ID: "ip-1"}}
	job := &domain.Job{ID: "j1", Owner: domain.Owner{CreatedBy: "alice"}, Specification: spec}

	v, err := f.svc.Rehydrate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "j1", v.Job.ID)
	assert.Equal(t, []string{"alpha", "--threads", "8"}, v.Arguments)
	assert.Len(t, v.Bindings, 1)
	assert.Equal(t, int64(600), v.EstimatedCost)
}

func TestParameterSpecs(t *testing.T) {
	two, ten, step := 2.0, 10.0, 2.0
	tests := []struct {
		name    string
		param   domain.ApplicationParameter
		value   domain.ParameterValue
		want    domain.ParameterValue
		wantErr bool
	}{
		{name: "int in range", param: domain.ApplicationParameter{Type: domain.KindInteger, Min: &two, Max: &ten}, value: domain.IntValue{Value: 5}, want: domain.IntValue{Value: 5}},
		{name: "int below min", param: domain.ApplicationParameter{Type: domain.KindInteger, Min: &two}, value: domain.IntValue{Value: 1}, wantErr: true},
		{name: "int off step", param: domain.ApplicationParameter{Type: domain.KindInteger, Min: &two, Step: &step}, value: domain.IntValue{Value: 5}, wantErr: true},
		{name: "int on step", param: domain.ApplicationParameter{Type: domain.KindInteger, Min: &two, Step: &step}, value: domain.IntValue{Value: 6}, want: domain.IntValue{Value: 6}},
		{name: "float widens int", param: domain.ApplicationParameter{Type: domain.KindFloat}, value: domain.IntValue{Value: 3}, want: domain.FloatValue{Value: 3}},
		{name: "float above max", param: domain.ApplicationParameter{Type: domain.KindFloat, Max: &ten}, value: domain.FloatValue{Value: 10.5}, wantErr: true},
		{name: "bool", param: domain.ApplicationParameter{Type: domain.KindBoolean}, value: domain.BoolValue{Value: true}, want: domain.BoolValue{Value: true}},
		{name: "directory for file", param: domain.ApplicationParameter{Type: domain.KindInputFile}, value: domain.FileValue{Path: "/home/a", Directory: true}, wantErr: true},
		{name: "license kind mismatch", param: domain.ApplicationParameter{Type: domain.KindLicense}, value: domain.ResourceValue{ResourceKind: domain.KindIngress, ID: "x"}, wantErr: true},
		{name: "bad hostname", param: domain.ApplicationParameter{Type: domain.KindPeer}, value: domain.PeerValue{Hostname: "Bad_Host", JobID: "j"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, ok := SpecFor(tt.param.Type)
			require.True(t, ok)
			got, err := spec.Validate(tt.param, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBooleanArgument(t *testing.T) {
	spec, _ := SpecFor(domain.KindBoolean)
	flagged := domain.ApplicationParameter{Type: domain.KindBoolean, Flag: "--verbose"}
	assert.Equal(t, []string{"--verbose"}, spec.Argument(flagged, domain.BoolValue{Value: true}))
	assert.Empty(t, spec.Argument(flagged, domain.BoolValue{Value: false}))
	assert.Equal(t, []string{"false"}, spec.Argument(domain.ApplicationParameter{Type: domain.KindBoolean}, domain.BoolValue{Value: false}))
}
