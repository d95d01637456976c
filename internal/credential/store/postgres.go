package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"issuant/internal/credential/models"
	"issuant/internal/platform/database"
	id "issuant/pkg/domain"
	dErrors "issuant/pkg/domain-errors"
)

// Postgres persists credential requests and companion data in PostgreSQL.
// Every method resolves its querier from the context so multi-store business
// operations commit in one transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const requestColumns = `
	id, holder_bpn, issuer_bpn, credential_type, kind, status,
	created_at, changed_at, creator_id, expiry_date, expiry_check_marker,
	detail_version_id, process_id, external_credential_id, signed_credential,
	reissued_from_id, wallet_request_id, wallet_request_status`

// CreateRequest persists a new credential request.
func (s *Postgres) CreateRequest(ctx context.Context, req *models.CredentialRequest) error {
	query := `
		INSERT INTO credential_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query, requestArgs(req)...)
	if err != nil {
		return fmt.Errorf("create credential request: %w", err)
	}
	return nil
}

// FindRequest retrieves a credential request by id.
func (s *Postgres) FindRequest(ctx context.Context, credentialID id.CredentialID) (*models.CredentialRequest, error) {
	query := `SELECT` + requestColumns + ` FROM credential_requests WHERE id = $1`
	req, err := scanRequest(database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(credentialID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "credential request not found", map[string]string{
				"credentialId": credentialID.String(),
			})
		}
		return nil, fmt.Errorf("find credential request by id: %w", err)
	}
	return req, nil
}

// FindRequestByProcessID resolves the credential a process works on.
func (s *Postgres) FindRequestByProcessID(ctx context.Context, processID id.ProcessID) (*models.CredentialRequest, error) {
	query := `SELECT` + requestColumns + ` FROM credential_requests WHERE process_id = $1`
	req, err := scanRequest(database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(processID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "no credential request for process", map[string]string{
				"processId": processID.String(),
			})
		}
		return nil, fmt.Errorf("find credential request by process id: %w", err)
	}
	return req, nil
}

// HasReissuedSuccessor reports whether another request supersedes this
// credential.
func (s *Postgres) HasReissuedSuccessor(ctx context.Context, credentialID id.CredentialID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM credential_requests WHERE reissued_from_id = $1)`
	var exists bool
	if err := database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(credentialID)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check reissued successor: %w", err)
	}
	return exists, nil
}

// UpdateRequest persists a mutated credential request.
func (s *Postgres) UpdateRequest(ctx context.Context, req *models.CredentialRequest) error {
	query := `
		UPDATE credential_requests SET
			holder_bpn = $2, issuer_bpn = $3, credential_type = $4, kind = $5,
			status = $6, created_at = $7, changed_at = $8, creator_id = $9,
			expiry_date = $10, expiry_check_marker = $11, detail_version_id = $12,
			process_id = $13, external_credential_id = $14, signed_credential = $15,
			reissued_from_id = $16, wallet_request_id = $17, wallet_request_status = $18
		WHERE id = $1
	`
	res, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query, requestArgs(req)...)
	if err != nil {
		return fmt.Errorf("update credential request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "credential request not found")
	}
	return nil
}

// DeleteRequest physically removes a request; documents and detail data go
// with it via foreign keys.
func (s *Postgres) DeleteRequest(ctx context.Context, credentialID id.CredentialID) error {
	res, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`DELETE FROM credential_requests WHERE id = $1`, uuid.UUID(credentialID))
	if err != nil {
		return fmt.Errorf("delete credential request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "credential request not found")
	}
	return nil
}

// HasPendingRequest reports whether the holder already has a PENDING request
// for the given detail version.
func (s *Postgres) HasPendingRequest(ctx context.Context, holderBpn string, versionID id.DetailVersionID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM credential_requests
			WHERE holder_bpn = $1 AND detail_version_id = $2 AND status = $3
		)
	`
	var exists bool
	err := database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query,
		holderBpn, uuid.UUID(versionID), string(models.StatusPending)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending credential request: %w", err)
	}
	return exists, nil
}

// ListRequests returns one page of requests matching the filter plus the
// total match count.
func (s *Postgres) ListRequests(ctx context.Context, filter ListFilter) ([]*models.CredentialRequest, int, error) {
	where, args := listConditions(filter)

	q := database.QuerierFrom(ctx, s.db)
	var total int
	countQuery := `SELECT COUNT(*) FROM credential_requests` + where
	if err := q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count credential requests: %w", err)
	}

	pageQuery := fmt.Sprintf(`SELECT`+requestColumns+`
		FROM credential_requests%s
		ORDER BY created_at DESC, id
		OFFSET $%d LIMIT $%d`, where, len(args)+1, len(args)+2)
	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	rows, err := q.QueryContext(ctx, pageQuery, append(args, filter.Offset, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list credential requests: %w", err)
	}
	defer rows.Close()

	out, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// OwnRequests returns every request held by the given BPN, newest first.
func (s *Postgres) OwnRequests(ctx context.Context, holderBpn string) ([]*models.CredentialRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM credential_requests
		WHERE holder_bpn = $1
		ORDER BY created_at DESC, id`
	rows, err := database.QuerierFrom(ctx, s.db).QueryContext(ctx, query, holderBpn)
	if err != nil {
		return nil, fmt.Errorf("list own credential requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// GetRenewalCandidates returns the ACTIVE non-framework requests expiring by
// the cutoff that have no superseding request yet.
func (s *Postgres) GetRenewalCandidates(ctx context.Context, expiresBy time.Time) ([]*models.CredentialRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM credential_requests c
		WHERE c.status = 'ACTIVE'
		  AND c.kind <> 'FRAMEWORK'
		  AND c.expiry_date IS NOT NULL
		  AND c.expiry_date <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM credential_requests successor
			WHERE successor.reissued_from_id = c.id
		  )
		ORDER BY c.expiry_date, c.id`
	rows, err := database.QuerierFrom(ctx, s.db).QueryContext(ctx, query, expiresBy)
	if err != nil {
		return nil, fmt.Errorf("query renewal candidates: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// GetExpiryData returns the requests matching at least one expiry window.
// The query pre-filters a superset; the exact window flags are computed in
// Go so both store variants share one classifier.
func (s *Postgres) GetExpiryData(ctx context.Context, now, inactiveCutoff, expiredCutoff time.Time) ([]ExpiryRow, error) {
	oneMonth := now.AddDate(0, 2, 0)
	query := `
		SELECT r.id, r.holder_bpn, r.issuer_bpn, r.credential_type, r.kind, r.status,
		       r.created_at, r.changed_at, r.creator_id, r.expiry_date, r.expiry_check_marker,
		       r.detail_version_id, r.process_id, r.external_credential_id, r.signed_credential,
		       r.reissued_from_id, r.wallet_request_id, r.wallet_request_status, v.expiry, v.version
		FROM credential_requests r
		LEFT JOIN external_type_detail_versions v ON v.id = r.detail_version_id
		WHERE (r.status = 'PENDING' AND v.expiry < $1)
		   OR (r.status = 'INACTIVE' AND r.created_at < $2)
		   OR (r.status IN ('ACTIVE', 'INACTIVE') AND r.expiry_date < $3)
		   OR (r.status = 'ACTIVE' AND r.expiry_date <= $4)
		ORDER BY r.id
	`
	rows, err := database.QuerierFrom(ctx, s.db).QueryContext(ctx, query, now, inactiveCutoff, expiredCutoff, oneMonth)
	if err != nil {
		return nil, fmt.Errorf("query expiry data: %w", err)
	}
	defer rows.Close()

	var out []ExpiryRow
	for rows.Next() {
		req, detailExpiry, detailVersion, err := scanExpiryRow(rows)
		if err != nil {
			return nil, err
		}
		flags := models.ComputeSchedule(req, detailExpiry, now, inactiveCutoff, expiredCutoff)
		if !flags.Any() {
			continue
		}
		out = append(out, ExpiryRow{Request: req, DetailExpiry: detailExpiry, DetailVersion: detailVersion, Schedule: flags})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiry data: %w", err)
	}
	return out, nil
}

// CreateDetailData persists the companion detail data of a request.
func (s *Postgres) CreateDetailData(ctx context.Context, data *models.ProcessDetailData) error {
	query := `
		INSERT INTO process_detail_data (
			credential_id, schema, holder_wallet_url, client_id,
			encrypted_secret, iv, cipher_index, callback_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query, detailArgs(data)...)
	if err != nil {
		return fmt.Errorf("create process detail data: %w", err)
	}
	return nil
}

// FindDetailData retrieves the detail data of a request.
func (s *Postgres) FindDetailData(ctx context.Context, credentialID id.CredentialID) (*models.ProcessDetailData, error) {
	query := `
		SELECT credential_id, schema, holder_wallet_url, client_id,
		       encrypted_secret, iv, cipher_index, callback_url
		FROM process_detail_data
		WHERE credential_id = $1
	`
	data, err := scanDetail(database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(credentialID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.NewWithParameters(dErrors.CodeNotFound, "process detail data not found", map[string]string{
				"credentialId": credentialID.String(),
			})
		}
		return nil, fmt.Errorf("find process detail data: %w", err)
	}
	return data, nil
}

// UpdateDetailData persists mutated detail data.
func (s *Postgres) UpdateDetailData(ctx context.Context, data *models.ProcessDetailData) error {
	query := `
		UPDATE process_detail_data SET
			schema = $2, holder_wallet_url = $3, client_id = $4,
			encrypted_secret = $5, iv = $6, cipher_index = $7, callback_url = $8
		WHERE credential_id = $1
	`
	res, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query, detailArgs(data)...)
	if err != nil {
		return fmt.Errorf("update process detail data: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "process detail data not found")
	}
	return nil
}

// CreateDetailVersion persists a versioned external-type template.
func (s *Postgres) CreateDetailVersion(ctx context.Context, v *models.ExternalTypeDetailVersion) error {
	query := `
		INSERT INTO external_type_detail_versions (id, external_type_id, credential_type, version, template, valid_from, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(v.ID), v.ExternalTypeID, string(v.CredentialType), v.Version, v.Template, v.ValidFrom, v.Expiry)
	if err != nil {
		return fmt.Errorf("create detail version: %w", err)
	}
	return nil
}

// FindDetailVersion retrieves a detail version by id.
func (s *Postgres) FindDetailVersion(ctx context.Context, versionID id.DetailVersionID) (*models.ExternalTypeDetailVersion, error) {
	query := `
		SELECT id, external_type_id, credential_type, version, template, valid_from, expiry
		FROM external_type_detail_versions
		WHERE id = $1
	`
	v, err := scanDetailVersion(database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(versionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "detail version not found")
		}
		return nil, fmt.Errorf("find detail version: %w", err)
	}
	return v, nil
}

// FindDetailVersionForType resolves (externalTypeID, version) and counts the
// external types that carry that version string.
func (s *Postgres) FindDetailVersionForType(ctx context.Context, externalTypeID, version string) (*models.ExternalTypeDetailVersion, int, error) {
	q := database.QuerierFrom(ctx, s.db)

	var count int
	countQuery := `SELECT COUNT(DISTINCT external_type_id) FROM external_type_detail_versions WHERE version = $1`
	if err := q.QueryRowContext(ctx, countQuery, version).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count external types for version: %w", err)
	}

	query := `
		SELECT id, external_type_id, credential_type, version, template, valid_from, expiry
		FROM external_type_detail_versions
		WHERE external_type_id = $1 AND version = $2
	`
	v, err := scanDetailVersion(q.QueryRowContext(ctx, query, externalTypeID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, count, nil
		}
		return nil, 0, fmt.Errorf("find detail version for type: %w", err)
	}
	return v, count, nil
}

// CreateDocument persists a stored document.
func (s *Postgres) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, credential_id, name, content, hash, media_type, document_type, status, created_at, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(doc.ID), uuid.UUID(doc.CredentialID), doc.Name, doc.Content, doc.Hash,
		doc.MediaType, string(doc.Type), string(doc.Status), doc.CreatedAt, uuid.UUID(doc.CreatorID))
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// FindDocument retrieves a document by id.
func (s *Postgres) FindDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error) {
	query := `
		SELECT id, credential_id, name, content, hash, media_type, document_type, status, created_at, creator_id
		FROM documents
		WHERE id = $1
	`
	doc, err := scanDocument(database.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(documentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

// DocumentsByCredential returns the documents attached to a request.
func (s *Postgres) DocumentsByCredential(ctx context.Context, credentialID id.CredentialID) ([]*models.Document, error) {
	query := `
		SELECT id, credential_id, name, content, hash, media_type, document_type, status, created_at, creator_id
		FROM documents
		WHERE credential_id = $1
		ORDER BY created_at
	`
	rows, err := database.QuerierFrom(ctx, s.db).QueryContext(ctx, query, uuid.UUID(credentialID))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SetDocumentStatusByCredential cascades a status onto every attached
// document.
func (s *Postgres) SetDocumentStatusByCredential(ctx context.Context, credentialID id.CredentialID, status models.DocumentStatus) error {
	_, err := database.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE documents SET status = $2 WHERE credential_id = $1`,
		uuid.UUID(credentialID), string(status))
	if err != nil {
		return fmt.Errorf("cascade document status: %w", err)
	}
	return nil
}

func listConditions(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		conds = append(conds, fmt.Sprintf("credential_type = $%d", len(args)))
	}
	switch filter.Approval {
	case ApprovalManual:
		args = append(args, string(models.KindFramework))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	case ApprovalAutomatic:
		args = append(args, string(models.KindFramework))
		conds = append(conds, fmt.Sprintf("kind <> $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func requestArgs(req *models.CredentialRequest) []any {
	return []any{
		uuid.UUID(req.ID), req.HolderBpn, req.IssuerBpn, string(req.Type), string(req.Kind),
		string(req.Status), req.CreatedAt, req.ChangedAt, uuid.UUID(req.CreatorID),
		req.ExpiryDate, string(req.ExpiryCheckMarker),
		nullableID(req.DetailVersionID), nullableID(req.ProcessID),
		req.ExternalCredentialID, req.SignedCredential,
		nullableID(req.ReissuedFromID), req.WalletRequestID, string(req.WalletRequestStatus),
	}
}

func detailArgs(data *models.ProcessDetailData) []any {
	var cipherIndex sql.NullInt32
	if data.CipherIndex != nil {
		cipherIndex = sql.NullInt32{Int32: int32(*data.CipherIndex), Valid: true}
	}
	return []any{
		uuid.UUID(data.CredentialID), data.Schema, data.HolderWalletURL, data.ClientID,
		data.EncryptedSecret, data.IV, cipherIndex, data.CallbackURL,
	}
}

// nullableID converts a typed uuid pointer to a driver value to avoid typed
// nils reaching the driver.
func nullableID[T ~[16]byte](v *T) any {
	if v == nil {
		return nil
	}
	return uuid.UUID(*v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// requestRow holds the raw scan destinations for the requestColumns select
// list; toModel converts nullable columns into the entity's pointer fields.
type requestRow struct {
	id                   uuid.UUID
	holderBpn            string
	issuerBpn            string
	credentialType       string
	kind                 string
	status               string
	createdAt            time.Time
	changedAt            time.Time
	creatorID            uuid.UUID
	expiryDate           sql.NullTime
	expiryCheckMarker    string
	detailVersionID      uuid.NullUUID
	processID            uuid.NullUUID
	externalCredentialID sql.NullString
	signedCredential     []byte
	reissuedFromID       uuid.NullUUID
	walletRequestID      sql.NullString
	walletRequestStatus  string
}

func (r *requestRow) targets() []any {
	return []any{
		&r.id, &r.holderBpn, &r.issuerBpn, &r.credentialType, &r.kind, &r.status,
		&r.createdAt, &r.changedAt, &r.creatorID, &r.expiryDate, &r.expiryCheckMarker,
		&r.detailVersionID, &r.processID, &r.externalCredentialID, &r.signedCredential,
		&r.reissuedFromID, &r.walletRequestID, &r.walletRequestStatus,
	}
}

func (r *requestRow) toModel() *models.CredentialRequest {
	req := &models.CredentialRequest{
		ID:                  id.CredentialID(r.id),
		HolderBpn:           r.holderBpn,
		IssuerBpn:           r.issuerBpn,
		Type:                models.CredentialType(r.credentialType),
		Kind:                models.CredentialKind(r.kind),
		Status:              models.CredentialStatus(r.status),
		CreatedAt:           r.createdAt,
		ChangedAt:           r.changedAt,
		CreatorID:           id.IdentityID(r.creatorID),
		ExpiryCheckMarker:   models.ExpiryCheckMarker(r.expiryCheckMarker),
		SignedCredential:    r.signedCredential,
		WalletRequestStatus: models.WalletRequestStatus(r.walletRequestStatus),
	}
	if r.expiryDate.Valid {
		t := r.expiryDate.Time
		req.ExpiryDate = &t
	}
	if r.detailVersionID.Valid {
		v := id.DetailVersionID(r.detailVersionID.UUID)
		req.DetailVersionID = &v
	}
	if r.processID.Valid {
		v := id.ProcessID(r.processID.UUID)
		req.ProcessID = &v
	}
	if r.externalCredentialID.Valid {
		v := r.externalCredentialID.String
		req.ExternalCredentialID = &v
	}
	if r.reissuedFromID.Valid {
		v := id.CredentialID(r.reissuedFromID.UUID)
		req.ReissuedFromID = &v
	}
	if r.walletRequestID.Valid {
		v := r.walletRequestID.String
		req.WalletRequestID = &v
	}
	return req
}

func scanRequest(row rowScanner) (*models.CredentialRequest, error) {
	var r requestRow
	if err := row.Scan(r.targets()...); err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

func scanExpiryRow(row rowScanner) (*models.CredentialRequest, *time.Time, string, error) {
	var r requestRow
	var detailExpiry sql.NullTime
	var detailVersion sql.NullString
	if err := row.Scan(append(r.targets(), &detailExpiry, &detailVersion)...); err != nil {
		return nil, nil, "", fmt.Errorf("scan expiry row: %w", err)
	}
	var expiry *time.Time
	if detailExpiry.Valid {
		t := detailExpiry.Time
		expiry = &t
	}
	return r.toModel(), expiry, detailVersion.String, nil
}

func scanDetail(row rowScanner) (*models.ProcessDetailData, error) {
	var (
		credentialID uuid.UUID
		cipherIndex  sql.NullInt32
	)
	data := &models.ProcessDetailData{}
	err := row.Scan(&credentialID, &data.Schema, &data.HolderWalletURL, &data.ClientID,
		&data.EncryptedSecret, &data.IV, &cipherIndex, &data.CallbackURL)
	if err != nil {
		return nil, err
	}
	data.CredentialID = id.CredentialID(credentialID)
	if cipherIndex.Valid {
		v := int(cipherIndex.Int32)
		data.CipherIndex = &v
	}
	return data, nil
}

func scanDetailVersion(row rowScanner) (*models.ExternalTypeDetailVersion, error) {
	var (
		versionID      uuid.UUID
		credentialType string
	)
	v := &models.ExternalTypeDetailVersion{}
	err := row.Scan(&versionID, &v.ExternalTypeID, &credentialType, &v.Version, &v.Template, &v.ValidFrom, &v.Expiry)
	if err != nil {
		return nil, err
	}
	v.ID = id.DetailVersionID(versionID)
	v.CredentialType = models.CredentialType(credentialType)
	return v, nil
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		docID        uuid.UUID
		credentialID uuid.UUID
		docType      string
		status       string
		creatorID    uuid.UUID
	)
	doc := &models.Document{}
	err := row.Scan(&docID, &credentialID, &doc.Name, &doc.Content, &doc.Hash,
		&doc.MediaType, &docType, &status, &doc.CreatedAt, &creatorID)
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.ID = id.DocumentID(docID)
	doc.CredentialID = id.CredentialID(credentialID)
	doc.Type = models.DocumentType(docType)
	doc.Status = models.DocumentStatus(status)
	doc.CreatorID = id.IdentityID(creatorID)
	return doc, nil
}

func collectRequests(rows *sql.Rows) ([]*models.CredentialRequest, error) {
	var out []*models.CredentialRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential requests: %w", err)
	}
	return out, nil
}
