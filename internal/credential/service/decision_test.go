package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuant/internal/credential/models"
	processmodels "issuant/internal/process/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

func TestApproveCredential(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(0, 6, 0))
	credentialID := f.submitFramework(t, v)

	require.NoError(t, f.service.ApproveCredential(operatorCtx(), credentialID))

	req, err := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, req.Status)
	require.NotNil(t, req.ProcessID)
	require.NotNil(t, req.ExpiryDate)
	// the detail version expires before now+12 months, so its expiry wins
	assert.Equal(t, f.now.AddDate(0, 6, 0), *req.ExpiryDate)

	detail, err := f.store.FindDetailData(context.Background(), credentialID)
	require.NoError(t, err)
	schema, err := models.ParseSchema(detail.Schema)
	require.NoError(t, err)
	assert.True(t, schema.IssuanceDate.Equal(f.now))

	steps, err := f.processes.StepsByProcess(context.Background(), *req.ProcessID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, processmodels.StepCreateSignedCredential, steps[0].Type)

	require.Len(t, f.notifier.notifications, 1)
	assert.Equal(t, testHolderBpn, f.notifier.notifications[0].recipient)
	assert.Equal(t, notificationCredentialApproval, f.notifier.notifications[0].kind)
	assert.Contains(t, f.notifier.notifications[0].content, credentialID.String())
	require.Len(t, f.notifier.mails, 1)
	assert.Equal(t, mailTemplateApproval, f.notifier.mails[0].template)
	assert.Equal(t, string(models.TypeFrameworkAgreement), f.notifier.mails[0].parameters["credentialType"])
}

func TestApproveCredentialNotReentrant(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(1, 0, 0))
	credentialID := f.submitFramework(t, v)

	require.NoError(t, f.service.ApproveCredential(operatorCtx(), credentialID))

	err := f.service.ApproveCredential(operatorCtx(), credentialID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestApproveCredentialRequiresHumanOperator(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(1, 0, 0))
	credentialID := f.submitFramework(t, v)

	err := f.service.ApproveCredential(serviceAccountCtx(), credentialID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	req, findErr := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, findErr)
	assert.Equal(t, models.StatusPending, req.Status)
}

func TestApproveCredentialExpiryClampedToTwelveMonths(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(3, 0, 0))
	credentialID := f.submitFramework(t, v)

	require.NoError(t, f.service.ApproveCredential(operatorCtx(), credentialID))

	req, err := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	require.NotNil(t, req.ExpiryDate)
	assert.Equal(t, f.now.AddDate(0, 12, 0), *req.ExpiryDate)
}

func TestRejectCredential(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(1, 0, 0))
	credentialID := f.submitFramework(t, v)

	require.NoError(t, f.service.RejectCredential(operatorCtx(), credentialID))

	req, err := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, req.Status)

	require.Len(t, f.notifier.notifications, 1)
	assert.Equal(t, notificationCredentialRejected, f.notifier.notifications[0].kind)
	require.Len(t, f.notifier.mails, 1)
	assert.Equal(t, mailTemplateRejected, f.notifier.mails[0].template)
	assert.Equal(t, declineReasonOperator, f.notifier.mails[0].parameters["reason"])

	// rejecting twice is a conflict
	err = f.service.RejectCredential(operatorCtx(), credentialID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestRejectCredentialSkipsOutstandingSteps(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(1, 0, 0))
	credentialID := f.submitFramework(t, v)

	// attach a process manually, as if creation had already been started
	process := processmodels.NewProcessRun(id.NewProcessID(), processmodels.ProcessCreateCredential)
	step := processmodels.NewProcessStep(id.NewProcessStepID(), process.ID, processmodels.StepCreateSignedCredential, f.now)
	require.NoError(t, f.processes.CreateProcess(context.Background(), process))
	require.NoError(t, f.processes.CreateSteps(context.Background(), step))

	req, err := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	req.ProcessID = &process.ID
	require.NoError(t, f.store.UpdateRequest(context.Background(), req))

	require.NoError(t, f.service.RejectCredential(operatorCtx(), credentialID))

	steps, err := f.processes.StepsByProcess(context.Background(), process.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, processmodels.StepStatusSkipped, steps[0].Status)
}

func TestRevokeCredential(t *testing.T) {
	f := newFixture(t)
	credentialID, err := f.service.SubmitBpnCredential(humanCtx(), SimpleCredentialRequest{
		HolderBpn:         testHolderBpn,
		HolderDidLocation: "https://wallet.example.com/did.json",
	})
	require.NoError(t, err)

	req, err := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	external := "urn:uuid:11f804ae-c6b2-4cba-8dd1-7a34a4a17f39"
	req.ExternalCredentialID = &external
	require.NoError(t, f.store.UpdateRequest(context.Background(), req))

	require.NoError(t, f.service.RevokeCredential(operatorCtx(), credentialID, true))

	req, err = f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, req.Status)
	assert.Equal(t, []string{external}, f.wallet.revoked)

	docs, err := f.store.DocumentsByCredential(context.Background(), credentialID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.DocumentStatusInactive, docs[0].Status)
}

func TestRevokeCredentialNoOpWhenNotActive(t *testing.T) {
	f := newFixture(t)
	v := f.createDetailVersion(t, "traceability", "1.0", f.now.AddDate(1, 0, 0))
	credentialID := f.submitFramework(t, v)

	req, err := f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	external := "urn:uuid:11f804ae-c6b2-4cba-8dd1-7a34a4a17f39"
	req.ExternalCredentialID = &external
	require.NoError(t, f.store.UpdateRequest(context.Background(), req))

	require.NoError(t, f.service.RevokeCredential(operatorCtx(), credentialID, true))

	req, err = f.store.FindRequest(context.Background(), credentialID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Empty(t, f.wallet.revoked)
}

func TestRevokeCredentialHolderChecks(t *testing.T) {
	f := newFixture(t)
	credentialID, err := f.service.SubmitBpnCredential(humanCtx(), SimpleCredentialRequest{
		HolderBpn:         testHolderBpn,
		HolderDidLocation: "https://wallet.example.com/did.json",
	})
	require.NoError(t, err)

	// holder-side revocation by a different company is forbidden
	err = f.service.RevokeCredential(operatorCtx(), credentialID, false)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	// the holder themselves can try, but without an external credential id
	// there is nothing to revoke in the wallet
	err = f.service.RevokeCredential(humanCtx(), credentialID, false)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestClampExpiry(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("nil defaults to twelve months", func(t *testing.T) {
		got, err := clampExpiry(nil, now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 12, 0), got)
	})

	t.Run("past expiry is a conflict", func(t *testing.T) {
		past := now.Add(-time.Hour)
		_, err := clampExpiry(&past, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("near expiry is kept", func(t *testing.T) {
		near := now.AddDate(0, 3, 0)
		got, err := clampExpiry(&near, now)
		require.NoError(t, err)
		assert.Equal(t, near, got)
	})

	t.Run("far expiry is clamped", func(t *testing.T) {
		far := now.AddDate(5, 0, 0)
		got, err := clampExpiry(&far, now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 12, 0), got)
	})
}
