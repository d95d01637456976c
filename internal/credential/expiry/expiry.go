// Package expiry classifies credential requests against the retention and
// notification windows and acts on the result: delete, decline or notify.
package expiry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"issuant/internal/credential/metrics"
	"issuant/internal/credential/models"
	"issuant/internal/credential/store"
	"issuant/internal/platform/database"
	dErrors "issuant/pkg/domain-errors"
)

const (
	notificationCredentialRejected = "CREDENTIAL_REJECTED"
	notificationCredentialExpiry   = "CREDENTIAL_EXPIRY"

	mailTemplateRejected = "CredentialRejected"
	mailTemplateExpiry   = "CredentialExpiry"

	declineReasonExpired = "The credential is already expired"

	// mail date format for the expiry reminder, e.g. "02 January 2006"
	mailDateFormat = "02 January 2006"
)

// Notifier delivers lifecycle notifications and templated mails to the
// holder company.
type Notifier interface {
	AddNotification(ctx context.Context, recipientBpn, content, notificationType string) error
	TriggerMail(ctx context.Context, recipientBpn, template string, parameters map[string]string) error
}

// Settings are the retention knobs of the expiry run.
type Settings struct {
	// InactiveRetentionWeeks is how long INACTIVE requests are kept before
	// physical deletion.
	InactiveRetentionWeeks int
	// ExpiredRetentionMonths is how long expired credentials are kept
	// before physical deletion.
	ExpiredRetentionMonths int
}

// Result contains the outcome counts of one expiry run.
type Result struct {
	Deleted  int
	Declined int
	Notified int
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

// Service runs the expiry classifier over all credential requests.
type Service struct {
	store    store.Store
	tx       database.Tx
	notifier Notifier
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
}

func New(st store.Store, tx database.Tx, notifier Notifier, settings Settings, opts ...Option) *Service {
	if settings.InactiveRetentionWeeks <= 0 {
		settings.InactiveRetentionWeeks = 12
	}
	if settings.ExpiredRetentionMonths <= 0 {
		settings.ExpiredRetentionMonths = 3
	}
	s := &Service{
		store:    st,
		tx:       tx,
		notifier: notifier,
		settings: settings,
		logger:   slog.Default(),
		interval: time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the classifier on a ticker until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("expiry run failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("expiry worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single expiry pass. Each matched row is handled and
// committed on its own; a failing row is logged and the pass continues.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	start := s.now()
	now := start.UTC()
	inactiveCutoff := now.AddDate(0, 0, -s.settings.InactiveRetentionWeeks*7)
	expiredCutoff := now.AddDate(0, -s.settings.ExpiredRetentionMonths, 0)

	rows, err := s.store.GetExpiryData(ctx, now, inactiveCutoff, expiredCutoff)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.handleRow(ctx, row, now, res); err != nil {
			res.Failed++
			s.logger.Error("expiry handling failed",
				"credential_id", row.Request.ID,
				"status", row.Request.Status,
				"error", err,
			)
		}
	}
	res.Duration = time.Since(start)

	s.logger.Info("expiry run completed",
		"deleted", res.Deleted,
		"declined", res.Declined,
		"notified", res.Notified,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.ObserveExpiryRun(start)
	}
	return res, nil
}

// handleRow acts on one classified request. Deletion wins over decline,
// decline wins over notification.
func (s *Service) handleRow(ctx context.Context, row store.ExpiryRow, now time.Time, res *Result) error {
	switch {
	case row.Schedule.ToDelete:
		if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.store.DeleteRequest(ctx, row.Request.ID)
		}); err != nil {
			return err
		}
		res.Deleted++
		if s.metrics != nil {
			s.metrics.RequestsDeleted.Inc()
		}
		return nil
	case row.Schedule.ToDecline:
		if err := s.decline(ctx, row.Request, now); err != nil {
			return err
		}
		res.Declined++
		return nil
	default:
		if err := s.notify(ctx, row, now); err != nil {
			return err
		}
		res.Notified++
		return nil
	}
}

// decline moves a PENDING request whose template version has expired to
// INACTIVE and informs the requester.
func (s *Service) decline(ctx context.Context, req *models.CredentialRequest, now time.Time) error {
	if err := req.Transition(models.StatusInactive, now); err != nil {
		return err
	}
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.UpdateRequest(ctx, req)
	}); err != nil {
		return err
	}

	if s.notifier == nil {
		return nil
	}
	content, err := json.Marshal(struct {
		Type         models.CredentialType `json:"type"`
		CredentialID string                `json:"credentialId"`
	}{Type: req.Type, CredentialID: req.ID.String()})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal notification content")
	}
	if err := s.notifier.AddNotification(ctx, req.HolderBpn, string(content), notificationCredentialRejected); err != nil {
		return err
	}
	return s.notifier.TriggerMail(ctx, req.HolderBpn, mailTemplateRejected, map[string]string{
		"requestName": string(req.Type),
		"reason":      declineReasonExpired,
	})
}

// notify sends the applicable expiry reminder and advances the marker so a
// later pass does not resend the same window.
func (s *Service) notify(ctx context.Context, row store.ExpiryRow, now time.Time) error {
	req := row.Request
	var marker models.ExpiryCheckMarker
	var window string
	switch {
	case row.Schedule.NotifyOneDay:
		marker, window = models.MarkerOneDay, "one_day"
	case row.Schedule.NotifyTwoWeeks:
		marker, window = models.MarkerTwoWeeks, "two_weeks"
	case row.Schedule.NotifyOneMonth:
		marker, window = models.MarkerOneMonth, "one_month"
	default:
		return dErrors.New(dErrors.CodeUnexpectedCondition, "expiry row matched no window")
	}
	if req.ExpiryDate == nil {
		return dErrors.New(dErrors.CodeConflict, "notified request has no expiry date")
	}
	if !req.ExpiryCheckMarker.CanAdvanceTo(marker) {
		return dErrors.New(dErrors.CodeUnexpectedCondition, "expiry marker would move backwards")
	}

	req.ExpiryCheckMarker = marker
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.UpdateRequest(ctx, req)
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ExpiryNotifications.WithLabelValues(window).Inc()
	}
	if s.notifier == nil {
		return nil
	}

	version := row.DetailVersion
	if version == "" {
		version = "no version"
	}
	content, err := json.Marshal(struct {
		Type         models.CredentialType    `json:"type"`
		ExpiryDate   string                   `json:"expiryDate"`
		Version      string                   `json:"version"`
		CredentialID string                   `json:"credentialId"`
		Marker       models.ExpiryCheckMarker `json:"expiryCheckType"`
	}{
		Type:         req.Type,
		ExpiryDate:   req.ExpiryDate.Format(time.RFC3339),
		Version:      row.DetailVersion,
		CredentialID: req.ID.String(),
		Marker:       marker,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not marshal notification content")
	}
	if err := s.notifier.AddNotification(ctx, req.HolderBpn, string(content), notificationCredentialExpiry); err != nil {
		return err
	}
	return s.notifier.TriggerMail(ctx, req.HolderBpn, mailTemplateExpiry, map[string]string{
		"typeId":     string(req.Type),
		"version":    version,
		"expiryDate": req.ExpiryDate.Format(mailDateFormat),
	})
}
