package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/circuitbreaker"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/ttlcache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v3"
)

const (
	AuthJWT               = "jwt"
	AuthClientCredentials = "client_credentials"
)

// AuthConfig selects how the orchestrator authenticates to a provider.
type AuthConfig struct {
	Type         string   `yaml:"type"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Entry is one provider in the registry file.
type Entry struct {
	ID      string     `yaml:"id"`
	BaseURL string     `yaml:"base_url"`
	Auth    AuthConfig `yaml:"auth"`
	// Products is the fallback manifest used when the provider cannot be asked.
	Products []domain.ProductSupport `yaml:"products"`
}

type registryFile struct {
	Providers []Entry `yaml:"providers"`
}

// TokenIssuer signs the orchestrator's own service tokens.
type TokenIssuer interface {
	TokenSource(actor domain.Actor) oauth2.TokenSource
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Path        string
	Issuer      TokenIssuer
	Timeout     time.Duration
	ManifestTTL time.Duration
	Breakers    circuitbreaker.Config
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	Transport   http.RoundTripper
}

// Registry knows every configured provider and routes calls to them.
type Registry struct {
	cfg       RegistryConfig
	breakers  *circuitbreaker.Registry
	manifests *ttlcache.Cache[string, domain.ProviderManifest]
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	static  map[string]domain.ProviderManifest
}

// NewRegistry loads the registry file at cfg.Path.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		cfg:       cfg,
		breakers:  circuitbreaker.NewRegistry(cfg.Breakers),
		manifests: ttlcache.New[string, domain.ProviderManifest](cfg.ManifestTTL),
		logger:    cfg.Logger,
		now:       time.Now,
		clients:   map[string]*Client{},
		static:    map[string]domain.ProviderManifest{},
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file. On error the previous providers stay in effect.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to read provider registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse provider registry: %w", err)
	}
	return r.apply(file.Providers)
}

func (r *Registry) apply(entries []Entry) error {
	clients := make(map[string]*Client, len(entries))
	static := make(map[string]domain.ProviderManifest, len(entries))

	for _, e := range entries {
		if _, dup := clients[e.ID]; dup {
			return fmt.Errorf("provider %q is listed twice", e.ID)
		}
		tokens, err := r.tokenSource(e)
		if err != nil {
			return err
		}
		client, err := NewClient(ClientConfig{
			ProviderID: e.ID,
			BaseURL:    e.BaseURL,
			Tokens:     tokens,
			Timeout:    r.cfg.Timeout,
			Breaker:    r.breakers.Get(e.ID),
			Metrics:    r.cfg.Metrics,
			Logger:     r.logger,
			Transport:  r.cfg.Transport,
		})
		if err != nil {
			return err
		}
		clients[e.ID] = client

		products := make([]domain.ProductSupport, len(e.Products))
		for i, p := range e.Products {
			p.Product.Provider = e.ID
			products[i] = p
		}
		static[e.ID] = domain.ProviderManifest{ProviderID: e.ID, Products: products}
	}

	r.mu.Lock()
	for id := range r.clients {
		if _, kept := clients[id]; !kept {
			r.breakers.Remove(id)
			r.manifests.Delete(id)
		}
	}
	r.clients = clients
	r.static = static
	r.mu.Unlock()

	r.logger.Info("Provider registry loaded", slog.Int("providers", len(clients)))
	return nil
}

func (r *Registry) tokenSource(e Entry) (oauth2.TokenSource, error) {
	switch e.Auth.Type {
	case AuthClientCredentials:
		if e.Auth.TokenURL == "" || e.Auth.ClientID == "" {
			return nil, fmt.Errorf("provider %s: client_credentials requires token_url and client_id", e.ID)
		}
		cc := clientcredentials.Config{
			ClientID:     e.Auth.ClientID,
			ClientSecret: e.Auth.ClientSecret,
			TokenURL:     e.Auth.TokenURL,
			Scopes:       e.Auth.Scopes,
		}
		return cc.TokenSource(context.Background()), nil
	case AuthJWT, "":
		if r.cfg.Issuer == nil {
			return nil, nil
		}
		return r.cfg.Issuer.TokenSource(domain.SystemActor), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown auth type %q", e.ID, e.Auth.Type)
	}
}

// IDs returns the configured provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Client(id string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, apperrors.NotFound("provider", id)
	}
	return c, nil
}

// BreakerStats reports breaker states across providers.
func (r *Registry) BreakerStats() circuitbreaker.Stats {
	return r.breakers.Stats()
}

// Manifest returns the provider's capabilities. A fresh answer from the provider is cached
// for the manifest TTL; when the provider cannot be asked, the last answer or the
// registry file's products are used.
func (r *Registry) Manifest(ctx context.Context, id string) (domain.ProviderManifest, error) {
	client, err := r.Client(id)
	if err != nil {
		return domain.ProviderManifest{}, err
	}

	m, err := r.manifests.GetOrLoad(ctx, id, func(ctx context.Context, id string) (domain.ProviderManifest, error) {
		products, err := client.RetrieveProducts(ctx)
		if err != nil {
			return domain.ProviderManifest{}, err
		}
		for i := range products {
			products[i].Product.Provider = id
		}
		return domain.ProviderManifest{ProviderID: id, Products: products, FetchedAt: r.now()}, nil
	})
	if err == nil {
		return m, nil
	}

	if stale, ok := r.manifests.Stale(id); ok {
		r.logger.Warn("Using stale provider manifest",
			slog.String("provider", id),
			slog.Time("fetched_at", stale.FetchedAt),
			slog.Any("error", err),
		)
		return stale, nil
	}

	r.mu.RLock()
	static, ok := r.static[id]
	r.mu.RUnlock()
	if ok && len(static.Products) > 0 {
		r.logger.Warn("Using configured provider manifest",
			slog.String("provider", id),
			slog.Any("error", err),
		)
		return static, nil
	}
	return domain.ProviderManifest{}, err
}

// Create submits jobs to providerID.
func (r *Registry) Create(ctx context.Context, providerID string, jobs []*domain.VerifiedJob) ([]CreatedJob, error) {
	c, err := r.Client(providerID)
	if err != nil {
		return nil, err
	}
	return c.Create(ctx, jobs)
}

func (r *Registry) Cancel(ctx context.Context, providerID string, jobs []*domain.Job) error {
	c, err := r.Client(providerID)
	if err != nil {
		return err
	}
	return c.Cancel(ctx, jobs)
}

func (r *Registry) Extend(ctx context.Context, providerID string, requests []ExtendRequest) error {
	c, err := r.Client(providerID)
	if err != nil {
		return err
	}
	return c.Extend(ctx, requests)
}

func (r *Registry) Suspend(ctx context.Context, providerID string, jobs []*domain.Job) error {
	c, err := r.Client(providerID)
	if err != nil {
		return err
	}
	return c.Suspend(ctx, jobs)
}

func (r *Registry) Verify(ctx context.Context, providerID string, jobs []*domain.Job) ([]JobReport, error) {
	c, err := r.Client(providerID)
	if err != nil {
		return nil, err
	}
	return c.Verify(ctx, jobs)
}

func (r *Registry) Utilization(ctx context.Context, providerID string) (*Utilization, error) {
	c, err := r.Client(providerID)
	if err != nil {
		return nil, err
	}
	return c.RetrieveUtilization(ctx)
}

func (r *Registry) OpenInteractiveSession(ctx context.Context, providerID string, req SessionRequest) (*Session, error) {
	c, err := r.Client(providerID)
	if err != nil {
		return nil, err
	}
	return c.OpenInteractiveSession(ctx, req)
}

func (r *Registry) Follow(ctx context.Context, providerID string, job *domain.Job, rank int) (LogStream, error) {
	c, err := r.Client(providerID)
	if err != nil {
		return nil, err
	}
	stream, err := c.Follow(ctx, job, rank)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
