// Package renewal reissues expiring credentials. The sweep finds ACTIVE
// BPN and membership credentials close to their expiry date and creates a
// successor request with a moved validity window; the successor's creation
// pipeline later revokes the superseded credential.
package renewal

import (
	"context"
	"crypto/sha512"
	"log/slog"
	"time"

	"issuant/internal/credential/metrics"
	"issuant/internal/credential/models"
	"issuant/internal/credential/store"
	"issuant/internal/platform/database"
	processmodels "issuant/internal/process/models"
	id "issuant/pkg/domain"
)

// ProcessStore creates the successor's creation process.
type ProcessStore interface {
	CreateProcess(ctx context.Context, process *processmodels.ProcessRun) error
	CreateSteps(ctx context.Context, steps ...*processmodels.ProcessStep) error
}

// Settings are the knobs of the renewal sweep.
type Settings struct {
	// AheadDays is how many days before expiry a credential becomes a
	// renewal candidate.
	AheadDays int
	// ValidityMonths is the validity window of the reissued credential.
	ValidityMonths int
}

// Result contains the outcome counts of one renewal run.
type Result struct {
	Reissued int
	Failed   int
	Duration time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs the renewal sweep over all credential requests.
type Service struct {
	store     store.Store
	processes ProcessStore
	tx        database.Tx
	settings  Settings
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	now       func() time.Time
}

func New(st store.Store, processes ProcessStore, tx database.Tx, settings Settings, opts ...Option) *Service {
	if settings.AheadDays <= 0 {
		settings.AheadDays = 1
	}
	if settings.ValidityMonths <= 0 {
		settings.ValidityMonths = 12
	}
	s := &Service{
		store:     st,
		processes: processes,
		tx:        tx,
		settings:  settings,
		logger:    slog.Default(),
		interval:  time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep on a ticker until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("renewal run failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("renewal worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single renewal pass. Each candidate is reissued and
// committed on its own; a failing row is logged and the pass continues.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	start := s.now()
	now := start.UTC()
	cutoff := now.AddDate(0, 0, s.settings.AheadDays)

	candidates, err := s.store.GetRenewalCandidates(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.reissue(ctx, candidate, now); err != nil {
			res.Failed++
			s.logger.Error("credential renewal failed",
				"credential_id", candidate.ID,
				"credential_type", candidate.Type,
				"error", err,
			)
			continue
		}
		res.Reissued++
		if s.metrics != nil {
			s.metrics.CredentialsRenewed.Inc()
		}
	}
	res.Duration = time.Since(start)

	s.logger.Info("renewal run completed",
		"reissued", res.Reissued,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// reissue creates the successor request of one expiring credential: a copy
// of the stored schema with a fresh id and validity window, a new creation
// process starting at the signing step, and the companion detail data and
// schema document. The whole successor is committed in one transaction.
func (s *Service) reissue(ctx context.Context, candidate *models.CredentialRequest, now time.Time) error {
	detail, err := s.store.FindDetailData(ctx, candidate.ID)
	if err != nil {
		return err
	}
	schema, err := models.ParseSchema(detail.Schema)
	if err != nil {
		return err
	}
	renewed := schema.WithRenewal(now, now.AddDate(0, s.settings.ValidityMonths, 0))
	raw, err := models.EncodeSchema(renewed)
	if err != nil {
		return err
	}

	successor, err := models.NewCredentialRequest(id.NewCredentialID(), candidate.HolderBpn, candidate.IssuerBpn,
		candidate.Type, candidate.Kind, candidate.CreatorID, now)
	if err != nil {
		return err
	}
	process := processmodels.NewProcessRun(id.NewProcessID(), processmodels.ProcessCreateCredential)
	firstStep := processmodels.NewProcessStep(id.NewProcessStepID(), process.ID, processmodels.StepCreateSignedCredential, now)
	successor.ProcessID = &process.ID
	successor.DetailVersionID = candidate.DetailVersionID
	successor.ReissuedFromID = &candidate.ID
	expiry := renewed.ExpirationDate
	successor.ExpiryDate = &expiry

	successorDetail := &models.ProcessDetailData{
		CredentialID:    successor.ID,
		Schema:          raw,
		HolderWalletURL: detail.HolderWalletURL,
		ClientID:        detail.ClientID,
		EncryptedSecret: detail.EncryptedSecret,
		IV:              detail.IV,
		CipherIndex:     detail.CipherIndex,
		CallbackURL:     detail.CallbackURL,
	}

	hash := sha512.Sum512(raw)
	doc := &models.Document{
		ID:           id.NewDocumentID(),
		CredentialID: successor.ID,
		Name:         "schema.json",
		Content:      raw,
		Hash:         hash[:],
		MediaType:    "application/json",
		Type:         models.DocumentTypePresentation,
		Status:       models.DocumentStatusActive,
		CreatedAt:    now,
		CreatorID:    candidate.CreatorID,
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.processes.CreateProcess(ctx, process); err != nil {
			return err
		}
		if err := s.processes.CreateSteps(ctx, firstStep); err != nil {
			return err
		}
		if err := s.store.CreateRequest(ctx, successor); err != nil {
			return err
		}
		if err := s.store.CreateDetailData(ctx, successorDetail); err != nil {
			return err
		}
		return s.store.CreateDocument(ctx, doc)
	})
}
