// Package service implements the credential lifecycle business logic:
// submission, approval, rejection, revocation, and the query surface.
package service

import (
	"context"
	"log/slog"
	"time"

	"issuant/internal/cipher"
	"issuant/internal/credential/metrics"
	"issuant/internal/credential/store"
	"issuant/internal/platform/database"
	processmodels "issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
	"issuant/pkg/platform/audit"
	"issuant/pkg/requestcontext"
)

// DefaultMaxPageSize caps listing pages when the config does not say
// otherwise.
const DefaultMaxPageSize = 100

// credentialExpiryMonths is the default and maximum validity granted at
// approval time.
const credentialExpiryMonths = 12

// ProcessStore is the slice of process persistence the lifecycle needs:
// creating the pipeline at approval and abandoning it at rejection.
type ProcessStore interface {
	CreateProcess(ctx context.Context, p *processmodels.ProcessRun) error
	CreateSteps(ctx context.Context, steps ...*processmodels.ProcessStep) error
	UpdateStep(ctx context.Context, step *processmodels.ProcessStep) error
	TodoSteps(ctx context.Context, processID id.ProcessID, allowed []processmodels.StepType) ([]*processmodels.ProcessStep, error)
}

// DidResolver resolves a DID document location to the holder DID.
type DidResolver interface {
	Resolve(ctx context.Context, location string) (string, error)
}

// WalletClient is the slice of the wallet surface the lifecycle itself
// needs; the pipelines use the full client.
type WalletClient interface {
	RevokeCredential(ctx context.Context, externalCredentialID string) error
}

// Notifier delivers notifications and templated mails to a holder company.
type Notifier interface {
	AddNotification(ctx context.Context, recipientBpn string, content, notificationType string) error
	TriggerMail(ctx context.Context, recipientBpn string, template string, parameters map[string]string) error
}

// Settings carries the issuer-side constants of the lifecycle.
type Settings struct {
	IssuerDid     string
	IssuerBpn     string
	StatusListURL string
	MaxPageSize   int
}

// Service orchestrates the credential lifecycle.
type Service struct {
	store     store.Store
	processes ProcessStore
	tx        database.Tx
	cipher    *cipher.Registry
	resolver  DidResolver
	wallet    WalletClient
	notifier  Notifier
	settings  Settings

	logger  *slog.Logger
	auditor *audit.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditLogger(auditor *audit.Logger) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(st store.Store, processes ProcessStore, tx database.Tx, cipherRegistry *cipher.Registry, resolver DidResolver, wallet WalletClient, notifier Notifier, settings Settings, opts ...Option) *Service {
	if settings.MaxPageSize <= 0 {
		settings.MaxPageSize = DefaultMaxPageSize
	}
	s := &Service{
		store:     st,
		processes: processes,
		tx:        tx,
		cipher:    cipherRegistry,
		resolver:  resolver,
		wallet:    wallet,
		notifier:  notifier,
		settings:  settings,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// identity returns the authenticated actor or an error when the context
// carries none.
func (s *Service) identity(ctx context.Context) (requestcontext.Identity, error) {
	actor, ok := requestcontext.IdentityFrom(ctx)
	if !ok {
		return requestcontext.Identity{}, dErrors.New(dErrors.CodeForbidden, "request carries no identity")
	}
	return actor, nil
}

// requireHuman rejects service accounts; approval and rejection are operator
// decisions.
func (s *Service) requireHuman(ctx context.Context) (requestcontext.Identity, error) {
	actor, err := s.identity(ctx)
	if err != nil {
		return actor, err
	}
	if actor.IsServiceAccount {
		return actor, dErrors.New(dErrors.CodeForbidden, "technical users cannot perform this operation")
	}
	return actor, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, actor requestcontext.Identity, credentialID id.CredentialID, attributes ...any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(ctx, event, audit.Event{
		Timestamp:    s.now().UTC(),
		ActorID:      actor.ID,
		ActorBpn:     actor.Bpn,
		CredentialID: credentialID.String(),
	}, attributes...)
}

// clampExpiry resolves the target expiry at approval: the requested value
// clamped into [now, now+12 months], defaulting to the upper bound when
// absent.
func clampExpiry(requested *time.Time, now time.Time) (time.Time, error) {
	upper := now.AddDate(0, credentialExpiryMonths, 0)
	if requested == nil || requested.After(upper) {
		return upper, nil
	}
	if requested.Before(now) {
		return time.Time{}, dErrors.New(dErrors.CodeConflict, "expiry date is already in the past")
	}
	return *requested, nil
}
