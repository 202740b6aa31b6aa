// Package providertest provides an in-memory stand-in for the provider registry.
package providertest

import (
	"context"
	"io"
	"sync"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
)

// Fake records calls and answers from configured state. The zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	manifests   map[string]domain.ProviderManifest
	reports     map[string]provider.JobReport
	errs        map[string]error
	utilization map[string]*provider.Utilization
	logs        []provider.LogMessage

	created   []string
	canceled  []string
	suspended []string
	extended  []provider.ExtendRequest
	sessions  []provider.SessionRequest

	// OnCreate, if set, runs before Create returns.
	OnCreate func(jobs []*domain.VerifiedJob)
}

func New() *Fake {
	return &Fake{
		manifests:   map[string]domain.ProviderManifest{},
		reports:     map[string]provider.JobReport{},
		errs:        map[string]error{},
		utilization: map[string]*provider.Utilization{},
	}
}

func (f *Fake) SetManifest(m domain.ProviderManifest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[m.ProviderID] = m
}

// SetReport sets what Verify answers for a job.
func (f *Fake) SetReport(r provider.JobReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[r.JobID] = r
}

// SetError makes op ("create", "cancel", "extend", "suspend", "verify", "session") fail with err.
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *Fake) SetUtilization(providerID string, u *provider.Utilization) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utilization[providerID] = u
}

func (f *Fake) SetLogs(logs ...provider.LogMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = logs
}

func (f *Fake) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *Fake) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func (f *Fake) Suspended() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.suspended...)
}

func (f *Fake) Extended() []provider.ExtendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.ExtendRequest(nil), f.extended...)
}

func (f *Fake) Sessions() []provider.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.SessionRequest(nil), f.sessions...)
}

func (f *Fake) Manifest(_ context.Context, id string) (domain.ProviderManifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[id]
	if !ok {
		return domain.ProviderManifest{}, apperrors.NotFound("provider", id)
	}
	return m, nil
}

func (f *Fake) Create(_ context.Context, _ string, jobs []*domain.VerifiedJob) ([]provider.CreatedJob, error) {
	if f.OnCreate != nil {
		f.OnCreate(jobs)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["create"]; err != nil {
		return nil, err
	}
	out := make([]provider.CreatedJob, 0, len(jobs))
	for _, j := range jobs {
		f.created = append(f.created, j.Job.ID)
		out = append(out, provider.CreatedJob{ProviderJobID: "p-" + j.Job.ID})
	}
	return out, nil
}

func (f *Fake) Cancel(_ context.Context, _ string, jobs []*domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["cancel"]; err != nil {
		return err
	}
	for _, j := range jobs {
		f.canceled = append(f.canceled, j.ID)
	}
	return nil
}

func (f *Fake) Extend(_ context.Context, _ string, requests []provider.ExtendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["extend"]; err != nil {
		return err
	}
	f.extended = append(f.extended, requests...)
	return nil
}

func (f *Fake) Suspend(_ context.Context, _ string, jobs []*domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["suspend"]; err != nil {
		return err
	}
	for _, j := range jobs {
		f.suspended = append(f.suspended, j.ID)
	}
	return nil
}

func (f *Fake) Verify(_ context.Context, _ string, jobs []*domain.Job) ([]provider.JobReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["verify"]; err != nil {
		return nil, err
	}
	out := make([]provider.JobReport, 0, len(jobs))
	for _, j := range jobs {
		r, ok := f.reports[j.ID]
		if !ok {
			r = provider.JobReport{JobID: j.ID, Known: true, State: j.Status.State}
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *Fake) Utilization(_ context.Context, id string) (*provider.Utilization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.utilization[id]
	if !ok {
		return nil, apperrors.NotFound("provider", id)
	}
	return u, nil
}

func (f *Fake) OpenInteractiveSession(_ context.Context, _ string, req provider.SessionRequest) (*provider.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["session"]; err != nil {
		return nil, err
	}
	f.sessions = append(f.sessions, req)
	return &provider.Session{
		SessionType: req.SessionType,
		JobID:       req.Job.ID,
		Rank:        req.Rank,
		RedirectURL: "https://provider.example/session/" + req.Job.ID,
	}, nil
}

func (f *Fake) Follow(_ context.Context, _ string, _ *domain.Job, _ int) (provider.LogStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &stream{logs: append([]provider.LogMessage(nil), f.logs...)}, nil
}

type stream struct {
	logs []provider.LogMessage
}

func (s *stream) Next() (provider.LogMessage, error) {
	if len(s.logs) == 0 {
		return provider.LogMessage{}, io.EOF
	}
	m := s.logs[0]
	s.logs = s.logs[1:]
	return m, nil
}

func (s *stream) Close() error { return nil }
