package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuant/internal/credential/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

const (
	holderBpn = "BPNL000000000001"
	issuerBpn = "BPNL000000000OPERATOR"
)

func newRequest(t *testing.T, status models.CredentialStatus, createdAt time.Time) *models.CredentialRequest {
	t.Helper()
	kind := models.KindFramework
	if status == models.StatusActive {
		kind = models.KindMembership
	}
	req, err := models.NewCredentialRequest(id.NewCredentialID(), holderBpn, issuerBpn, models.TypeFrameworkAgreement, kind, id.NewIdentityID(), createdAt)
	require.NoError(t, err)
	req.Status = status
	return req
}

func TestRequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	now := time.Now().UTC()
	req := newRequest(t, models.StatusPending, now)
	versionID := id.NewDetailVersionID()
	req.DetailVersionID = &versionID

	require.NoError(t, s.CreateRequest(ctx, req))
	assert.True(t, dErrors.HasCode(s.CreateRequest(ctx, req), dErrors.CodeConflict))

	got, err := s.FindRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	// mutating the returned value must not leak into the store
	got.HolderBpn = "BPNL00000000OTHER"
	again, err := s.FindRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, holderBpn, again.HolderBpn)

	_, err = s.FindRequest(ctx, id.NewCredentialID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestHasPendingRequest(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()
	versionID := id.NewDetailVersionID()

	pending := newRequest(t, models.StatusPending, now)
	pending.DetailVersionID = &versionID
	require.NoError(t, s.CreateRequest(ctx, pending))

	has, err := s.HasPendingRequest(ctx, holderBpn, versionID)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasPendingRequest(ctx, "BPNL00000000OTHER", versionID)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = s.HasPendingRequest(ctx, holderBpn, id.NewDetailVersionID())
	require.NoError(t, err)
	assert.False(t, has)

	// an INACTIVE request for the same pair no longer blocks
	require.NoError(t, pending.Transition(models.StatusInactive, now))
	require.NoError(t, s.UpdateRequest(ctx, pending))
	has, err = s.HasPendingRequest(ctx, holderBpn, versionID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestListRequestsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		req := newRequest(t, models.StatusPending, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateRequest(ctx, req))
	}
	active := newRequest(t, models.StatusActive, base.Add(time.Hour))
	active.Type = models.TypeMembership
	require.NoError(t, s.CreateRequest(ctx, active))

	pending := models.StatusPending
	page, total, err := s.ListRequests(ctx, ListFilter{Status: &pending, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 3)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, total, err := s.ListRequests(ctx, ListFilter{Status: &pending, Offset: 3, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, rest, 1)

	membership := models.TypeMembership
	byType, total, err := s.ListRequests(ctx, ListFilter{Type: &membership})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byType, 1)
	assert.Equal(t, active.ID, byType[0].ID)

	manual, total, err := s.ListRequests(ctx, ListFilter{Approval: ApprovalManual})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, manual, 4)

	automatic, _, err := s.ListRequests(ctx, ListFilter{Approval: ApprovalAutomatic})
	require.NoError(t, err)
	require.Len(t, automatic, 1)
	assert.Equal(t, active.ID, automatic[0].ID)

	empty, total, err := s.ListRequests(ctx, ListFilter{Status: &pending, Offset: 10, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, empty)
}

func TestOwnRequests(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()

	mine := newRequest(t, models.StatusActive, now)
	require.NoError(t, s.CreateRequest(ctx, mine))
	other := newRequest(t, models.StatusActive, now)
	other.HolderBpn = "BPNL00000000OTHER"
	require.NoError(t, s.CreateRequest(ctx, other))

	own, err := s.OwnRequests(ctx, holderBpn)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)
}

func TestDeleteRequestCascades(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()

	req := newRequest(t, models.StatusInactive, now)
	require.NoError(t, s.CreateRequest(ctx, req))
	require.NoError(t, s.CreateDetailData(ctx, &models.ProcessDetailData{CredentialID: req.ID, Schema: []byte(`{}`)}))
	doc := &models.Document{
		ID:           id.NewDocumentID(),
		CredentialID: req.ID,
		Name:         "credential.json",
		Content:      []byte(`{}`),
		Type:         models.DocumentTypeVerifiedCredential,
		Status:       models.DocumentStatusActive,
		CreatedAt:    now,
		CreatorID:    id.NewIdentityID(),
	}
	require.NoError(t, s.CreateDocument(ctx, doc))

	require.NoError(t, s.DeleteRequest(ctx, req.ID))

	_, err := s.FindRequest(ctx, req.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.FindDetailData(ctx, req.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.FindDocument(ctx, doc.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	assert.True(t, dErrors.HasCode(s.DeleteRequest(ctx, req.ID), dErrors.CodeNotFound))
}

func TestDetailVersionForType(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()

	v1 := &models.ExternalTypeDetailVersion{
		ID:             id.NewDetailVersionID(),
		ExternalTypeID: "traceability",
		Version:        "1.0",
		Template:       "https://example.com/traceability-1.0.pdf",
		ValidFrom:      now.AddDate(0, -1, 0),
		Expiry:         now.AddDate(1, 0, 0),
	}
	require.NoError(t, s.CreateDetailVersion(ctx, v1))

	got, count, err := s.FindDetailVersionForType(ctx, "traceability", "1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NotNil(t, got)
	assert.Equal(t, v1.ID, got.ID)

	// a second external type carrying the same version string is ambiguous
	v2 := &models.ExternalTypeDetailVersion{
		ID:             id.NewDetailVersionID(),
		ExternalTypeID: "quality",
		Version:        "1.0",
		Template:       "https://example.com/quality-1.0.pdf",
		ValidFrom:      now.AddDate(0, -1, 0),
		Expiry:         now.AddDate(1, 0, 0),
	}
	require.NoError(t, s.CreateDetailVersion(ctx, v2))

	_, count, err = s.FindDetailVersionForType(ctx, "traceability", "1.0")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	missing, count, err := s.FindDetailVersionForType(ctx, "unknown", "1.0")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 2, count)
}

func TestDocumentStatusCascade(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now().UTC()

	req := newRequest(t, models.StatusPending, now)
	require.NoError(t, s.CreateRequest(ctx, req))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.CreateDocument(ctx, &models.Document{
			ID:           id.NewDocumentID(),
			CredentialID: req.ID,
			Name:         "schema.json",
			Content:      []byte(`{}`),
			Type:         models.DocumentTypePresentation,
			Status:       models.DocumentStatusPending,
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
			CreatorID:    id.NewIdentityID(),
		}))
	}

	require.NoError(t, s.SetDocumentStatusByCredential(ctx, req.ID, models.DocumentStatusInactive))

	docs, err := s.DocumentsByCredential(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, models.DocumentStatusInactive, doc.Status)
	}
}

// TestGetExpiryDataFixture pins the classifier against a fixed reference
// time: six rows must match, three PENDING past their template expiry and
// three INACTIVE past the retention windows.
func TestGetExpiryDataFixture(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	now := time.Date(2025, 1, 1, 1, 1, 1, 0, time.UTC)
	inactiveCutoff := now.AddDate(0, -12, 0)
	expiredCutoff := now.AddDate(0, 0, -42)

	expiredVersion := &models.ExternalTypeDetailVersion{
		ID:             id.NewDetailVersionID(),
		ExternalTypeID: "traceability",
		Version:        "1.0",
		ValidFrom:      now.AddDate(-2, 0, 0),
		Expiry:         now.AddDate(0, 0, -1),
	}
	liveVersion := &models.ExternalTypeDetailVersion{
		ID:             id.NewDetailVersionID(),
		ExternalTypeID: "traceability",
		Version:        "2.0",
		ValidFrom:      now.AddDate(0, -1, 0),
		Expiry:         now.AddDate(1, 0, 0),
	}
	require.NoError(t, s.CreateDetailVersion(ctx, expiredVersion))
	require.NoError(t, s.CreateDetailVersion(ctx, liveVersion))

	// three PENDING requests on the expired template: to-decline
	for i := 0; i < 3; i++ {
		req := newRequest(t, models.StatusPending, now.AddDate(0, -1, 0))
		req.DetailVersionID = &expiredVersion.ID
		require.NoError(t, s.CreateRequest(ctx, req))
	}
	// two INACTIVE requests older than the retention cutoff: to-delete
	for i := 0; i < 2; i++ {
		req := newRequest(t, models.StatusInactive, inactiveCutoff.AddDate(0, 0, -1))
		require.NoError(t, s.CreateRequest(ctx, req))
	}
	// one INACTIVE request expired past the grace period: to-delete
	expired := newRequest(t, models.StatusInactive, now.AddDate(0, -1, 0))
	expiry := expiredCutoff.AddDate(0, 0, -1)
	expired.ExpiryDate = &expiry
	require.NoError(t, s.CreateRequest(ctx, expired))

	// rows that must not match any window
	freshPending := newRequest(t, models.StatusPending, now.AddDate(0, -1, 0))
	freshPending.DetailVersionID = &liveVersion.ID
	require.NoError(t, s.CreateRequest(ctx, freshPending))

	freshInactive := newRequest(t, models.StatusInactive, now.AddDate(0, -1, 0))
	require.NoError(t, s.CreateRequest(ctx, freshInactive))

	farFuture := newRequest(t, models.StatusActive, now.AddDate(0, -1, 0))
	future := now.AddDate(1, 0, 0)
	farFuture.ExpiryDate = &future
	require.NoError(t, s.CreateRequest(ctx, farFuture))

	notified := newRequest(t, models.StatusActive, now.AddDate(0, -1, 0))
	soon := now.Add(12 * time.Hour)
	notified.ExpiryDate = &soon
	notified.ExpiryCheckMarker = models.MarkerOneDay
	require.NoError(t, s.CreateRequest(ctx, notified))

	rows, err := s.GetExpiryData(ctx, now, inactiveCutoff, expiredCutoff)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	var pendingCount, inactiveCount int
	for _, row := range rows {
		switch row.Request.Status {
		case models.StatusPending:
			pendingCount++
			assert.True(t, row.Schedule.ToDecline)
		case models.StatusInactive:
			inactiveCount++
			assert.True(t, row.Schedule.ToDelete)
		default:
			t.Fatalf("unexpected status %s in expiry rows", row.Request.Status)
		}
	}
	assert.Equal(t, 3, pendingCount)
	assert.Equal(t, 3, inactiveCount)
}

func TestGetExpiryDataNotifyWindows(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	inactiveCutoff := now.AddDate(0, -12, 0)
	expiredCutoff := now.AddDate(0, 0, -42)

	mk := func(expiry time.Time, marker models.ExpiryCheckMarker) *models.CredentialRequest {
		req := newRequest(t, models.StatusActive, now.AddDate(0, -1, 0))
		e := expiry
		req.ExpiryDate = &e
		req.ExpiryCheckMarker = marker
		require.NoError(t, s.CreateRequest(ctx, req))
		return req
	}

	oneDay := mk(now.Add(20*time.Hour), models.MarkerTwoWeeks)
	twoWeeks := mk(now.AddDate(0, 0, 10), models.MarkerOneMonth)
	oneMonth := mk(now.AddDate(0, 1, 0), models.MarkerNone)
	mk(now.AddDate(0, 0, 10), models.MarkerTwoWeeks) // already notified, no flag

	rows, err := s.GetExpiryData(ctx, now, inactiveCutoff, expiredCutoff)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	flagsByID := make(map[id.CredentialID]models.ScheduleFlags, len(rows))
	for _, row := range rows {
		flagsByID[row.Request.ID] = row.Schedule
	}
	assert.True(t, flagsByID[oneDay.ID].NotifyOneDay)
	assert.True(t, flagsByID[twoWeeks.ID].NotifyTwoWeeks)
	assert.True(t, flagsByID[oneMonth.ID].NotifyOneMonth)
}

func TestGetRenewalCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, 1)

	mk := func(status models.CredentialStatus, kind models.CredentialKind, expiry *time.Time) *models.CredentialRequest {
		req := newRequest(t, status, now.AddDate(-1, 0, 0))
		req.Kind = kind
		req.ExpiryDate = expiry
		require.NoError(t, s.CreateRequest(ctx, req))
		return req
	}
	soon := now.Add(12 * time.Hour)
	later := now.AddDate(0, 6, 0)

	due := mk(models.StatusActive, models.KindMembership, &soon)
	mk(models.StatusActive, models.KindBpn, &later)           // not yet due
	mk(models.StatusActive, models.KindFramework, &soon)      // frameworks are not swept
	mk(models.StatusInactive, models.KindMembership, &soon)   // not active
	mk(models.StatusActive, models.KindMembership, nil)       // no expiry recorded

	superseded := mk(models.StatusActive, models.KindBpn, &soon)
	successor := newRequest(t, models.StatusActive, now)
	successor.Kind = models.KindBpn
	successor.ReissuedFromID = &superseded.ID
	successor.ExpiryDate = &later
	require.NoError(t, s.CreateRequest(ctx, successor))

	got, err := s.GetRenewalCandidates(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}
