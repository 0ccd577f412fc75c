package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"memberportal/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	if u.Status == "" {
		u.Status = models.UserActive
	}
	if u.DirectoryState == "" {
		u.DirectoryState = "none"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id,full_name,email,username,password_hash,role,status,directory_state,directory_error,download_count,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.FullName, u.Email, u.Username, u.PasswordHash, u.Role, u.Status, u.DirectoryState, u.DirectoryError, u.DownloadCount, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return models.User{}, ErrConflict
	}
	return u, err
}

func (s *Store) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return nil
	}
	u, err := s.GetUserByEmail(ctx, email)
	if err == ErrNotFound {
		now := time.Now().UTC()
		username := "admin"
		if at := strings.Index(email, "@"); at > 0 {
			username = email[:at]
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users(id,full_name,email,username,password_hash,role,status,directory_state,created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
			uuid.NewString(), "Administrator", email, username, passwordHash, "admin", models.UserActive, "none", now,
		)
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET role='admin', status='active', password_hash=? WHERE id=?`,
		passwordHash, u.ID,
	)
	return err
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role='admin'`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

const userCols = `id,full_name,email,username,password_hash,role,status,directory_state,directory_error,download_count,last_download_at,created_at,last_login_at`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	var dirErr sql.NullString
	var lastDownload, lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Status, &u.DirectoryState, &dirErr, &u.DownloadCount, &lastDownload, &u.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if dirErr.Valid {
		v := dirErr.String
		u.DirectoryError = &v
	}
	if lastDownload.Valid {
		t := lastDownload.Time
		u.LastDownloadAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=?`, email))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=?`, username))
}

func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status=? WHERE id=?`, status, userID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, passwordHash, userID)
	return err
}

func (s *Store) UpdateDirectoryState(ctx context.Context, userID, state string, errMsg *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET directory_state=?, directory_error=? WHERE id=?`, state, errMsg, userID)
	return err
}

func (s *Store) TouchUserLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at=? WHERE id=?`, at, userID)
	return err
}

func (s *Store) RecordUserDownload(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET download_count=download_count+1, last_download_at=? WHERE id=?`, at, userID)
	return err
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, userID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- applications ---

const applicationCols = `id,full_name,email,phone,position,school,regional_unit,branch_unit,education,experience,status,submitted_at,processed_at,username,rejection_reason,needs_reconciliation,source`

func scanApplication(row interface{ Scan(...any) error }) (models.Application, error) {
	var a models.Application
	var processedAt sql.NullTime
	var username, reason sql.NullString
	var reconcile int
	err := row.Scan(&a.ID, &a.FullName, &a.Email, &a.Phone, &a.Position, &a.School, &a.RegionalUnit, &a.BranchUnit, &a.Education, &a.Experience, &a.Status, &a.SubmittedAt, &processedAt, &username, &reason, &reconcile, &a.Source)
	if err == sql.ErrNoRows {
		return models.Application{}, ErrNotFound
	}
	if err != nil {
		return models.Application{}, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		a.ProcessedAt = &t
	}
	if username.Valid {
		v := username.String
		a.Username = &v
	}
	if reason.Valid {
		v := reason.String
		a.RejectionReason = &v
	}
	a.NeedsReconciliation = reconcile == 1
	return a, nil
}

func (s *Store) CreateApplication(ctx context.Context, in models.NewApplication, source string) (models.Application, error) {
	a := models.Application{
		ID:           uuid.NewString(),
		FullName:     in.FullName,
		Email:        in.Email,
		Phone:        in.Phone,
		Position:     in.Position,
		School:       in.School,
		RegionalUnit: in.RegionalUnit,
		BranchUnit:   in.BranchUnit,
		Education:    in.Education,
		Experience:   in.Experience,
		Status:       models.ApplicationPending,
		SubmittedAt:  time.Now().UTC(),
		Source:       source,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applications(id,full_name,email,phone,position,school,regional_unit,branch_unit,education,experience,status,submitted_at,source) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.FullName, a.Email, a.Phone, a.Position, a.School, a.RegionalUnit, a.BranchUnit, a.Education, a.Experience, a.Status, a.SubmittedAt, a.Source,
	)
	return a, err
}

// UpsertApplication mirrors a full application record, used when caching
// backend reads or seeding demo data.
func (s *Store) UpsertApplication(ctx context.Context, a models.Application) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applications(`+applicationCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, processed_at=excluded.processed_at,
		   username=excluded.username, rejection_reason=excluded.rejection_reason,
		   needs_reconciliation=excluded.needs_reconciliation, source=excluded.source`,
		a.ID, a.FullName, a.Email, a.Phone, a.Position, a.School, a.RegionalUnit, a.BranchUnit, a.Education, a.Experience,
		a.Status, a.SubmittedAt, a.ProcessedAt, a.Username, a.RejectionReason, boolToInt(a.NeedsReconciliation), a.Source,
	)
	return err
}

func (s *Store) GetApplicationByID(ctx context.Context, id string) (models.Application, error) {
	return scanApplication(s.db.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM applications WHERE id=?`, id))
}

func (s *Store) ListApplications(ctx context.Context, status string, limit, offset int) ([]models.Application, error) {
	query := `SELECT ` + applicationCols + ` FROM applications ORDER BY submitted_at ASC LIMIT ? OFFSET ?`
	args := []any{limit, offset}
	if status != "" && status != "all" {
		query = `SELECT ` + applicationCols + ` FROM applications WHERE status=? ORDER BY submitted_at ASC LIMIT ? OFFSET ?`
		args = []any{status, limit, offset}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountApplications(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM applications`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) CountApplicationsByStatus(ctx context.Context) (map[models.ApplicationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[models.ApplicationStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[models.ApplicationStatus(status)] = count
	}
	return out, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role != 'admin'`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SetApplicationDecision transitions a pending application to a terminal
// status. The WHERE status='pending' guard makes a second decision on the
// same application fail with ErrConflict instead of overwriting.
func (s *Store) SetApplicationDecision(ctx context.Context, id string, status models.ApplicationStatus, username, reason, source string) error {
	now := time.Now().UTC()
	var user, why any
	if username != "" {
		user = username
	}
	if reason != "" {
		why = reason
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE applications SET status=?, processed_at=?, username=?, rejection_reason=?, source=?, needs_reconciliation=0 WHERE id=? AND status='pending'`,
		status, now, user, why, source, id,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetApplicationByID(ctx, id); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *Store) MarkApplicationReconciliation(ctx context.Context, id string, needed bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE applications SET needs_reconciliation=? WHERE id=?`, boolToInt(needed), id)
	return err
}

func (s *Store) ListReconciliationPending(ctx context.Context) ([]models.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+applicationCols+` FROM applications WHERE needs_reconciliation=1 ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id=?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- certificates ---

const certificateCols = `id,user_id,stored_name,original_name,content_type,size_bytes,uploaded_at,download_count`

func scanCertificate(row interface{ Scan(...any) error }) (models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(&c.ID, &c.UserID, &c.StoredName, &c.OriginalName, &c.ContentType, &c.SizeBytes, &c.UploadedAt, &c.DownloadCount)
	if err == sql.ErrNoRows {
		return models.Certificate{}, ErrNotFound
	}
	if err != nil {
		return models.Certificate{}, err
	}
	return c, nil
}

func (s *Store) CreateCertificate(ctx context.Context, c models.Certificate) (models.Certificate, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.UploadedAt.IsZero() {
		c.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO certificates(id,user_id,stored_name,original_name,content_type,size_bytes,uploaded_at,download_count) VALUES(?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.StoredName, c.OriginalName, c.ContentType, c.SizeBytes, c.UploadedAt, c.DownloadCount,
	)
	return c, err
}

func (s *Store) GetCertificateByID(ctx context.Context, id string) (models.Certificate, error) {
	return scanCertificate(s.db.QueryRowContext(ctx, `SELECT `+certificateCols+` FROM certificates WHERE id=?`, id))
}

func (s *Store) ListCertificatesByUser(ctx context.Context, userID string) ([]models.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+certificateCols+` FROM certificates WHERE user_id=? ORDER BY uploaded_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCertificate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM certificates WHERE id=?`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCertificateDownload bumps the per-certificate counter and appends a
// history row. User-level aggregates are updated separately via
// RecordUserDownload.
func (s *Store) RecordCertificateDownload(ctx context.Context, certificateID, userID string) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE certificates SET download_count=download_count+1 WHERE id=?`, certificateID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO certificate_downloads(id,certificate_id,user_id,downloaded_at) VALUES(?,?,?,?)`,
		uuid.NewString(), certificateID, userID, now,
	)
	if err != nil {
		return err
	}
	return s.RecordUserDownload(ctx, userID, now)
}

func (s *Store) ListCertificateDownloads(ctx context.Context, userID string, limit, offset int) ([]models.CertificateDownload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,certificate_id,user_id,downloaded_at FROM certificate_downloads WHERE user_id=? ORDER BY downloaded_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CertificateDownload
	for rows.Next() {
		var d models.CertificateDownload
		if err := rows.Scan(&d.ID, &d.CertificateID, &d.UserID, &d.DownloadedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id,user_id,token_hash,ip_hint,user_agent_hash,expires_at,idle_expires_at,created_at,last_seen_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.IPHint, sess.UserAgentHash, sess.ExpiresAt, sess.IdleExpiresAt, sess.CreatedAt, sess.LastSeenAt,
	)
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	var sess models.Session
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,token_hash,ip_hint,user_agent_hash,expires_at,idle_expires_at,created_at,last_seen_at,revoked_at FROM sessions WHERE token_hash=?`,
		tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.IPHint, &sess.UserAgentHash, &sess.ExpiresAt, &sess.IdleExpiresAt, &sess.CreatedAt, &sess.LastSeenAt, &revoked)
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, idleExpiry time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=?, idle_expires_at=? WHERE id=?`, now, idleExpiry, id)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE id=?`, now, id)
	return err
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL`, now, userID)
	return err
}

// --- settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key,value,updated_at) VALUES(?,?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// --- audit ---

func (s *Store) InsertAudit(ctx context.Context, actorID, action, target, metadata string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_audit_log(id,actor_user_id,action,target,metadata_json,created_at) VALUES(?,?,?,?,?,?)`,
		uuid.NewString(), actorID, action, target, metadata, time.Now().UTC(),
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,actor_user_id,action,target,metadata_json,created_at FROM admin_audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorUserID, &e.Action, &e.Target, &e.MetadataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- login throttling ---

func (s *Store) IncrementRateEvent(ctx context.Context, key, route string, windowStart time.Time) (int, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limit_events(id,key,route,window_start,count,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(key, route, window_start)
		 DO UPDATE SET count = rate_limit_events.count + 1, updated_at = excluded.updated_at`,
		uuid.NewString(), key, route, windowStart, 1, now, now,
	)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count FROM rate_limit_events WHERE key=? AND route=? AND window_start=?`, key, route, windowStart).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) DeleteRateEvents(ctx context.Context, key, route string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE key=? AND route=?`, key, route)
	return err
}

func (s *Store) CleanupRateEventsBefore(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE window_start < ?`, before)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
