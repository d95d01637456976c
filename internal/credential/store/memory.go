package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"issuant/internal/credential/models"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// InMemory stores credential requests, detail data, detail versions and
// documents in memory. Reads clone so callers never observe store internals.
type InMemory struct {
	mu        sync.Mutex
	requests  map[id.CredentialID]*models.CredentialRequest
	details   map[id.CredentialID]*models.ProcessDetailData
	versions  map[id.DetailVersionID]*models.ExternalTypeDetailVersion
	documents map[id.DocumentID]*models.Document
}

// NewInMemory creates an empty in-memory credential store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests:  make(map[id.CredentialID]*models.CredentialRequest),
		details:   make(map[id.CredentialID]*models.ProcessDetailData),
		versions:  make(map[id.DetailVersionID]*models.ExternalTypeDetailVersion),
		documents: make(map[id.DocumentID]*models.Document),
	}
}

// CreateRequest persists a new credential request.
func (s *InMemory) CreateRequest(_ context.Context, req *models.CredentialRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "credential request already exists")
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// FindRequest retrieves a credential request by id.
func (s *InMemory) FindRequest(_ context.Context, credentialID id.CredentialID) (*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[credentialID]
	if !ok {
		return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "credential request not found", map[string]string{
			"credentialId": credentialID.String(),
		})
	}
	return cloneRequest(req), nil
}

// FindRequestByProcessID resolves the credential a process works on.
func (s *InMemory) FindRequestByProcessID(_ context.Context, processID id.ProcessID) (*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.ProcessID != nil && *req.ProcessID == processID {
			return cloneRequest(req), nil
		}
	}
	return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "no credential request for process", map[string]string{
		"processId": processID.String(),
	})
}

// HasReissuedSuccessor reports whether another request supersedes this
// credential.
func (s *InMemory) HasReissuedSuccessor(_ context.Context, credentialID id.CredentialID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.ReissuedFromID != nil && *req.ReissuedFromID == credentialID {
			return true, nil
		}
	}
	return false, nil
}

// GetRenewalCandidates returns the ACTIVE non-framework requests expiring by
// the cutoff that have no superseding request yet.
func (s *InMemory) GetRenewalCandidates(_ context.Context, expiresBy time.Time) ([]*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	superseded := make(map[id.CredentialID]bool)
	for _, req := range s.requests {
		if req.ReissuedFromID != nil {
			superseded[*req.ReissuedFromID] = true
		}
	}
	var out []*models.CredentialRequest
	for _, req := range s.requests {
		if req.Status != models.StatusActive || req.Kind == models.KindFramework {
			continue
		}
		if req.ExpiryDate == nil || req.ExpiryDate.After(expiresBy) {
			continue
		}
		if superseded[req.ID] {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(*out[j].ExpiryDate) })
	return out, nil
}

// UpdateRequest persists a mutated credential request.
func (s *InMemory) UpdateRequest(_ context.Context, req *models.CredentialRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "credential request not found")
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// DeleteRequest physically removes a request and everything hanging off it.
func (s *InMemory) DeleteRequest(_ context.Context, credentialID id.CredentialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[credentialID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "credential request not found")
	}
	delete(s.requests, credentialID)
	delete(s.details, credentialID)
	for docID, doc := range s.documents {
		if doc.CredentialID == credentialID {
			delete(s.documents, docID)
		}
	}
	return nil
}

// HasPendingRequest reports whether the holder already has a PENDING request
// for the given detail version.
func (s *InMemory) HasPendingRequest(_ context.Context, holderBpn string, versionID id.DetailVersionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.Status == models.StatusPending && req.HolderBpn == holderBpn &&
			req.DetailVersionID != nil && *req.DetailVersionID == versionID {
			return true, nil
		}
	}
	return false, nil
}

// ListRequests returns one page of requests matching the filter plus the
// total match count. Ordering is newest first with the id as tie-breaker so
// pages are stable.
func (s *InMemory) ListRequests(_ context.Context, filter ListFilter) ([]*models.CredentialRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*models.CredentialRequest
	for _, req := range s.requests {
		if matchesFilter(req, filter) {
			matches = append(matches, cloneRequest(req))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID.String() < matches[j].ID.String()
	})
	total := len(matches)
	if filter.Offset >= total {
		return nil, total, nil
	}
	matches = matches[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matches) {
		matches = matches[:filter.Limit]
	}
	return matches, total, nil
}

// OwnRequests returns every request held by the given BPN, newest first.
func (s *InMemory) OwnRequests(_ context.Context, holderBpn string) ([]*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CredentialRequest
	for _, req := range s.requests {
		if req.HolderBpn == holderBpn {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetExpiryData classifies every request against the expiry windows and
// returns the rows that matched at least one.
func (s *InMemory) GetExpiryData(_ context.Context, now, inactiveCutoff, expiredCutoff time.Time) ([]ExpiryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ExpiryRow
	for _, req := range s.requests {
		var detailExpiry *time.Time
		var detailVersion string
		if req.DetailVersionID != nil {
			if v, ok := s.versions[*req.DetailVersionID]; ok {
				e := v.Expiry
				detailExpiry = &e
				detailVersion = v.Version
			}
		}
		flags := models.ComputeSchedule(req, detailExpiry, now, inactiveCutoff, expiredCutoff)
		if !flags.Any() {
			continue
		}
		out = append(out, ExpiryRow{Request: cloneRequest(req), DetailExpiry: detailExpiry, DetailVersion: detailVersion, Schedule: flags})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Request.ID.String() < out[j].Request.ID.String() })
	return out, nil
}

// CreateDetailData persists the companion detail data of a request.
func (s *InMemory) CreateDetailData(_ context.Context, data *models.ProcessDetailData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.details[data.CredentialID]; exists {
		return dErrors.New(dErrors.CodeConflict, "process detail data already exists")
	}
	s.details[data.CredentialID] = cloneDetail(data)
	return nil
}

// FindDetailData retrieves the detail data of a request.
func (s *InMemory) FindDetailData(_ context.Context, credentialID id.CredentialID) (*models.ProcessDetailData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.details[credentialID]
	if !ok {
		return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "process detail data not found", map[string]string{
			"credentialId": credentialID.String(),
		})
	}
	return cloneDetail(data), nil
}

// UpdateDetailData persists mutated detail data.
func (s *InMemory) UpdateDetailData(_ context.Context, data *models.ProcessDetailData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.details[data.CredentialID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "process detail data not found")
	}
	s.details[data.CredentialID] = cloneDetail(data)
	return nil
}

// CreateDetailVersion persists a versioned external-type template.
func (s *InMemory) CreateDetailVersion(_ context.Context, version *models.ExternalTypeDetailVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[version.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "detail version already exists")
	}
	clone := *version
	s.versions[version.ID] = &clone
	return nil
}

// FindDetailVersion retrieves a detail version by id.
func (s *InMemory) FindDetailVersion(_ context.Context, versionID id.DetailVersionID) (*models.ExternalTypeDetailVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "detail version not found")
	}
	clone := *v
	return &clone, nil
}

// FindDetailVersionForType resolves (externalTypeID, version) and counts the
// external types that carry that version string.
func (s *InMemory) FindDetailVersionForType(_ context.Context, externalTypeID, version string) (*models.ExternalTypeDetailVersion, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make(map[string]bool)
	var match *models.ExternalTypeDetailVersion
	for _, v := range s.versions {
		if v.Version != version {
			continue
		}
		types[v.ExternalTypeID] = true
		if v.ExternalTypeID == externalTypeID {
			clone := *v
			match = &clone
		}
	}
	return match, len(types), nil
}

// CreateDocument persists a stored document.
func (s *InMemory) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "document already exists")
	}
	s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

// FindDocument retrieves a document by id.
func (s *InMemory) FindDocument(_ context.Context, documentID id.DocumentID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	return cloneDocument(doc), nil
}

// DocumentsByCredential returns the documents attached to a request ordered
// by creation time.
func (s *InMemory) DocumentsByCredential(_ context.Context, credentialID id.CredentialID) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Document
	for _, doc := range s.documents {
		if doc.CredentialID == credentialID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetDocumentStatusByCredential cascades a status onto every attached
// document.
func (s *InMemory) SetDocumentStatusByCredential(_ context.Context, credentialID id.CredentialID, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.documents {
		if doc.CredentialID == credentialID {
			doc.Status = status
		}
	}
	return nil
}

func matchesFilter(req *models.CredentialRequest, filter ListFilter) bool {
	if filter.Status != nil && req.Status != *filter.Status {
		return false
	}
	if filter.Type != nil && req.Type != *filter.Type {
		return false
	}
	switch filter.Approval {
	case ApprovalManual:
		if !req.Kind.RequiresApproval() {
			return false
		}
	case ApprovalAutomatic:
		if req.Kind.RequiresApproval() {
			return false
		}
	}
	return true
}

func cloneRequest(req *models.CredentialRequest) *models.CredentialRequest {
	clone := *req
	if req.ExpiryDate != nil {
		v := *req.ExpiryDate
		clone.ExpiryDate = &v
	}
	if req.DetailVersionID != nil {
		v := *req.DetailVersionID
		clone.DetailVersionID = &v
	}
	if req.ProcessID != nil {
		v := *req.ProcessID
		clone.ProcessID = &v
	}
	if req.ExternalCredentialID != nil {
		v := *req.ExternalCredentialID
		clone.ExternalCredentialID = &v
	}
	if req.ReissuedFromID != nil {
		v := *req.ReissuedFromID
		clone.ReissuedFromID = &v
	}
	if req.WalletRequestID != nil {
		v := *req.WalletRequestID
		clone.WalletRequestID = &v
	}
	clone.SignedCredential = append([]byte(nil), req.SignedCredential...)
	return &clone
}

func cloneDetail(data *models.ProcessDetailData) *models.ProcessDetailData {
	clone := *data
	clone.Schema = append([]byte(nil), data.Schema...)
	clone.EncryptedSecret = append([]byte(nil), data.EncryptedSecret...)
	clone.IV = append([]byte(nil), data.IV...)
	if data.CipherIndex != nil {
		v := *data.CipherIndex
		clone.CipherIndex = &v
	}
	return &clone
}

func cloneDocument(doc *models.Document) *models.Document {
	clone := *doc
	clone.Content = append([]byte(nil), doc.Content...)
	clone.Hash = append([]byte(nil), doc.Hash...)
	return &clone
}
