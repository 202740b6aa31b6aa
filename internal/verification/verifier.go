// Package verification turns job requests into verified jobs ready for submission.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/files"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/ttlcache"
)

// Manifests resolves provider capabilities.
type Manifests interface {
	Manifest(ctx context.Context, providerID string) (domain.ProviderManifest, error)
}

// FileChecker resolves input mounts for an actor.
type FileChecker interface {
	Stat(ctx context.Context, actor domain.Actor, v domain.FileValue) (domain.ResolvedMount, error)
}

// Wallets exposes balances for the quota check.
type Wallets interface {
	GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error)
}

// Config holds the collaborators of a Service.
type Config struct {
	Catalog   storage.CatalogStore
	Jobs      storage.JobStore
	Resources storage.ResourceStore
	Wallets   Wallets
	Files     FileChecker
	Manifests Manifests

	ApplicationTTL        time.Duration
	ProductTTL            time.Duration
	DefaultTimeAllocation time.Duration
}

// Service verifies job requests. It does not mutate persistent state.
type Service struct {
	catalog   storage.CatalogStore
	jobs      storage.JobStore
	resources storage.ResourceStore
	wallets   Wallets
	files     FileChecker
	manifests Manifests

	defaultTime time.Duration
	apps        *ttlcache.Cache[domain.ApplicationRef, *domain.Application]
	products    *ttlcache.Cache[domain.ProductRef, *domain.Product]
}

func New(cfg Config) *Service {
	defaultTime := cfg.DefaultTimeAllocation
	if defaultTime <= 0 {
		defaultTime = time.Hour
	}
	return &Service{
		catalog:     cfg.Catalog,
		jobs:        cfg.Jobs,
		resources:   cfg.Resources,
		wallets:     cfg.Wallets,
		files:       cfg.Files,
		manifests:   cfg.Manifests,
		defaultTime: defaultTime,
		apps:        ttlcache.New[domain.ApplicationRef, *domain.Application](cfg.ApplicationTTL),
		products:    ttlcache.New[domain.ProductRef, *domain.Product](cfg.ProductTTL),
	}
}

// Verify validates spec on behalf of actor. The returned job carries the owner and the
// normalized specification but no id or status.
func (s *Service) Verify(ctx context.Context, actor domain.Actor, spec domain.JobSpecification) (*domain.VerifiedJob, error) {
	owner := domain.Owner{CreatedBy: actor.Username, Project: actor.Project}

	v, err := s.resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	v.Job.Owner = owner
	spec = v.Job.Specification

	if spec.Replicas < 1 {
		return nil, apperrors.Validation("replicas", "at least one replica must be requested")
	}
	if spec.TimeAllocation == nil {
		allocation := domain.DurationOf(s.defaultTime)
		spec.TimeAllocation = &allocation
	} else if spec.TimeAllocation.Duration() <= 0 {
		return nil, apperrors.Validation("timeAllocation", "time allocated for job is too short")
	}

	params, err := s.checkParameters(v.Application, spec.Parameters)
	if err != nil {
		return nil, err
	}
	spec.Parameters = params
	v.Parameters = params
	v.Job.Specification = spec

	if err := s.checkValues(ctx, actor, v); err != nil {
		return nil, err
	}

	v.EstimatedCost = domain.Cost(v.Product.PricePerMinute, spec.Replicas, spec.TimeAllocation.Duration())
	if err := s.checkQuota(ctx, owner, v.EstimatedCost); err != nil {
		return nil, err
	}

	v.Arguments = renderArguments(v.Application, params)
	return v, nil
}

// Rehydrate rebuilds the verified view of a stored job without repeating the checks that
// only apply at submission.
func (s *Service) Rehydrate(ctx context.Context, job *domain.Job) (*domain.VerifiedJob, error) {
	v, err := s.resolve(ctx, job.Specification)
	if err != nil {
		return nil, err
	}
	v.Job = *job.Clone()
	v.Parameters = job.Specification.Parameters
	collect(v, job.Specification.Parameters, job.Specification.Resources)
	if job.Specification.TimeAllocation != nil {
		v.EstimatedCost = domain.Cost(v.Product.PricePerMinute, job.Specification.Replicas, job.Specification.TimeAllocation.Duration())
	}
	v.Arguments = renderArguments(v.Application, job.Specification.Parameters)
	return v, nil
}

// resolve loads the application, product and provider support of spec.
func (s *Service) resolve(ctx context.Context, spec domain.JobSpecification) (*domain.VerifiedJob, error) {
	app, err := s.apps.GetOrLoad(ctx, spec.Application, func(ctx context.Context, ref domain.ApplicationRef) (*domain.Application, error) {
		return s.catalog.GetApplication(ctx, ref.Name, ref.Version)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.UnknownApplication(spec.Application.Name, spec.Application.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application %s: %w", spec.Application, err)
	}
	if app.Withdrawn {
		return nil, apperrors.UnknownApplication(spec.Application.Name, spec.Application.Version)
	}

	product, err := s.products.GetOrLoad(ctx, spec.Product, s.catalog.GetProduct)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.ProductNotSupported(fmt.Sprintf("unknown product %s/%s at %s",
			spec.Product.Category, spec.Product.ID, spec.Product.Provider))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", spec.Product.ID, err)
	}

	manifest, err := s.manifests.Manifest(ctx, spec.Product.Provider)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ProductNotSupported(fmt.Sprintf("unknown provider %q", spec.Product.Provider))
	}
	if err != nil {
		return nil, err
	}
	support, ok := manifest.Support(spec.Product)
	if !ok {
		return nil, apperrors.ProductNotSupported(fmt.Sprintf("provider %s does not support product %s",
			spec.Product.Provider, spec.Product.ID))
	}
	if !support.Features(app.Backend).Enabled {
		return nil, apperrors.ProductNotSupported(fmt.Sprintf("%s applications are not supported on %s",
			app.Backend, spec.Product.ID))
	}

	return &domain.VerifiedJob{
		Job:         domain.Job{Specification: spec},
		Application: *app,
		Product:     *product,
		Support:     support,
	}, nil
}

func (s *Service) checkParameters(app domain.Application, given domain.Parameters) (domain.Parameters, error) {
	out := make(domain.Parameters, len(app.Parameters))
	for _, name := range given.Names() {
		param, ok := app.Parameter(name)
		if !ok {
			return nil, apperrors.InvalidParameter(name, "unknown parameter")
		}
		spec, ok := SpecFor(param.Type)
		if !ok {
			return nil, apperrors.InvalidParameter(name, fmt.Sprintf("unsupported parameter type %s", param.Type))
		}
		v, err := spec.Validate(param, given[name])
		if err != nil {
			return nil, apperrors.InvalidParameter(name, err.Error())
		}
		out[name] = v
	}

	for _, param := range app.Parameters {
		if _, ok := out[param.Name]; ok {
			continue
		}
		if v, ok := defaultValue(param); ok {
			out[param.Name] = v
			continue
		}
		if !param.Optional {
			return nil, apperrors.InvalidParameter(param.Name, "missing value")
		}
	}
	return out, nil
}

// checkValues resolves files, peers and bindable resources.
func (s *Service) checkValues(ctx context.Context, actor domain.Actor, v *domain.VerifiedJob) error {
	spec := v.Job.Specification
	type named struct {
		name  string
		value domain.ParameterValue
	}
	var values []named
	for _, name := range spec.Parameters.Names() {
		values = append(values, named{name: name, value: spec.Parameters[name]})
	}
	for i, r := range spec.Resources {
		values = append(values, named{name: fmt.Sprintf("resources[%d]", i), value: r})
	}

	seen := map[string]bool{}
	for _, nv := range values {
		switch value := nv.value.(type) {
		case domain.FileValue:
			mount, err := s.files.Stat(ctx, actor, value)
			switch {
			case errors.Is(err, files.ErrPermission):
				return apperrors.PermissionDenied(fmt.Sprintf("permission denied at %q", value.Path))
			case errors.Is(err, files.ErrNotExist):
				return apperrors.InvalidParameter(nv.name, fmt.Sprintf("file %q does not exist", value.Path))
			case errors.Is(err, apperrors.ErrValidation):
				return apperrors.InvalidParameter(nv.name, err.Error())
			case err != nil:
				return fmt.Errorf("failed to stat %s: %w", value.Path, err)
			}
			v.Mounts = append(v.Mounts, mount)

		case domain.PeerValue:
			if !v.Features().Peers {
				return apperrors.ProductNotSupported("peers are not supported by this provider")
			}
			if err := s.checkPeer(ctx, v.Job.Owner, value); err != nil {
				return apperrors.InvalidParameter(nv.name, err.Error())
			}
			v.Peers = append(v.Peers, value)

		case domain.ResourceValue:
			if value.ID == "" {
				return apperrors.InvalidParameter(nv.name, "missing resource id")
			}
			if seen[value.ID] {
				return apperrors.InvalidParameter(nv.name, fmt.Sprintf("resource %s is used twice", value.ID))
			}
			seen[value.ID] = true
			holder, bound, err := s.resources.BoundTo(ctx, value.ID)
			if err != nil {
				return fmt.Errorf("failed to look up resource %s: %w", value.ID, err)
			}
			if bound {
				return apperrors.InvalidParameter(nv.name, fmt.Sprintf("resource %s is already in use by job %s", value.ID, holder))
			}
			v.Bindings = append(v.Bindings, value)
		}
	}
	return nil
}

func (s *Service) checkPeer(ctx context.Context, owner domain.Owner, peer domain.PeerValue) error {
	job, err := s.jobs.GetJob(ctx, peer.JobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return fmt.Errorf("job with hostname %q is not valid", peer.Hostname)
	}
	if err != nil {
		return err
	}
	if job.Owner != owner {
		return fmt.Errorf("job with hostname %q is not valid", peer.Hostname)
	}
	if job.Status.State != domain.JobStateRunning {
		return fmt.Errorf("job with hostname %q is not running", peer.Hostname)
	}
	return nil
}

func (s *Service) checkQuota(ctx context.Context, owner domain.Owner, cost int64) error {
	wallet, err := s.wallets.GetWallet(ctx, owner.WalletID())
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.QuotaExceeded(fmt.Sprintf("no allocation for %s", owner.WalletID()))
	}
	if err != nil {
		return fmt.Errorf("failed to load wallet %s: %w", owner.WalletID(), err)
	}
	if wallet.Available() < cost {
		return apperrors.QuotaExceeded(fmt.Sprintf("job costs %d credits but only %d are available", cost, wallet.Available()))
	}
	return nil
}

// collect fills mounts, peers and bindings from stored values without checking them.
func collect(v *domain.VerifiedJob, params domain.Parameters, resources domain.Resources) {
	values := make([]domain.ParameterValue, 0, len(params)+len(resources))
	for _, name := range params.Names() {
		values = append(values, params[name])
	}
	values = append(values, resources...)
	for _, value := range values {
		switch value := value.(type) {
		case domain.FileValue:
			v.Mounts = append(v.Mounts, domain.ResolvedMount{Path: value.Path, ReadOnly: value.ReadOnly, Directory: value.Directory})
		case domain.PeerValue:
			v.Peers = append(v.Peers, value)
		case domain.ResourceValue:
			v.Bindings = append(v.Bindings, value)
		}
	}
}

func renderArguments(app domain.Application, params domain.Parameters) []string {
	args := append([]string(nil), app.Invocation...)
	for _, param := range app.Parameters {
		value, ok := params[param.Name]
		if !ok {
			continue
		}
		spec, ok := SpecFor(param.Type)
		if !ok {
			continue
		}
		args = append(args, spec.Argument(param, value)...)
	}
	return args
}
