package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"memberportal/internal/auth"
	"memberportal/internal/config"
	"memberportal/internal/directory"
	"memberportal/internal/files"
	"memberportal/internal/models"
	"memberportal/internal/notify"
	"memberportal/internal/repo"
	"memberportal/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many login attempts")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
)

var phoneRx = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,19}$`)

const usernameRetries = 3

const loginWindow = 15 * time.Minute

type Service struct {
	cfg       config.Config
	st        *store.Store
	repo      *repo.Repository
	provision directory.Provisioner
	sender    notify.Sender
	hasher    auth.Hasher
	storage   *files.Storage
	tokens    *files.TokenIssuer
}

func New(cfg config.Config, st *store.Store, r *repo.Repository, p directory.Provisioner, sender notify.Sender, storage *files.Storage, tokens *files.TokenIssuer) *Service {
	if sender == nil {
		sender = notify.LogSender{}
	}
	if p == nil {
		p = directory.NoopProvisioner{}
	}
	return &Service{
		cfg:       cfg,
		st:        st,
		repo:      r,
		provision: p,
		sender:    sender,
		hasher:    auth.NewHasher(cfg.PasswordHashTimeCost),
		storage:   storage,
		tokens:    tokens,
	}
}

func (s *Service) FallbackActive() bool { return s.repo.FallbackActive() }

func validationErr(field, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, msg)
}

func validateSubmission(in *models.NewApplication) error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Position = strings.TrimSpace(in.Position)
	in.School = strings.TrimSpace(in.School)
	in.RegionalUnit = strings.TrimSpace(in.RegionalUnit)
	in.BranchUnit = strings.TrimSpace(in.BranchUnit)
	in.Education = strings.TrimSpace(in.Education)
	in.Experience = strings.TrimSpace(in.Experience)

	if in.FullName == "" {
		return validationErr("full_name", "required")
	}
	if len(in.FullName) > 120 {
		return validationErr("full_name", "too long")
	}
	if in.Email == "" {
		return validationErr("email", "required")
	}
	if _, err := netmail.ParseAddress(in.Email); err != nil {
		return validationErr("email", "not a valid address")
	}
	if in.Phone != "" && !phoneRx.MatchString(in.Phone) {
		return validationErr("phone", "not a valid phone number")
	}
	if in.Position == "" {
		return validationErr("position", "required")
	}
	if in.School == "" {
		return validationErr("school", "required")
	}
	return nil
}

// SubmitApplication validates and persists a public membership application.
// The admin notification is best-effort: its outcome is reported alongside
// the stored application and never fails the submission.
func (s *Service) SubmitApplication(ctx context.Context, in models.NewApplication) (models.Application, notify.Result, error) {
	if err := validateSubmission(&in); err != nil {
		return models.Application{}, notify.Result{}, err
	}
	a, err := s.repo.CreateApplication(ctx, in)
	if err != nil {
		return models.Application{}, notify.Result{}, err
	}
	res := s.sender.SendAdminNotification(ctx, a)
	return a, res, nil
}

func (s *Service) ListApplications(ctx context.Context, status string, limit, offset int) ([]models.Application, error) {
	return s.repo.ListApplications(ctx, status, limit, offset)
}

func (s *Service) GetApplication(ctx context.Context, id string) (models.Application, error) {
	return s.repo.GetApplication(ctx, id)
}

func (s *Service) DeleteApplication(ctx context.Context, adminID, id string) error {
	if err := s.repo.DeleteApplication(ctx, id); err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]string{"application_id": id})
	return s.st.InsertAudit(ctx, adminID, "application.delete", id, string(meta))
}

// ApprovalOutcome reports everything the admin needs after an approval: the
// stored decision, the created account, the generated password (shown once,
// never persisted in the clear) and the delivery result of the credentials
// email.
type ApprovalOutcome struct {
	Application  models.Application
	User         models.User
	Password     string
	EmailResult  notify.Result
	RemoteStored bool
}

// ApproveApplication transitions a pending application to approved, creates
// the member account with generated credentials and emails them to the
// applicant. requestedUsername overrides the generated one when set.
func (s *Service) ApproveApplication(ctx context.Context, adminID, appID, requestedUsername string) (ApprovalOutcome, error) {
	a, err := s.repo.GetApplication(ctx, appID)
	if err != nil {
		return ApprovalOutcome{}, err
	}
	if a.Status != models.ApplicationPending {
		return ApprovalOutcome{}, store.ErrConflict
	}

	username := strings.TrimSpace(requestedUsername)
	if username == "" {
		username, err = auth.GenerateUsername(a.FullName)
		if err != nil {
			return ApprovalOutcome{}, err
		}
	}
	password, err := auth.GeneratePassword()
	if err != nil {
		return ApprovalOutcome{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return ApprovalOutcome{}, err
	}

	u := models.User{
		ID:           uuid.NewString(),
		FullName:     a.FullName,
		Email:        a.Email,
		Username:     username,
		PasswordHash: hash,
		Role:         "member",
		Status:       models.UserActive,
	}
	var created models.User
	var remoteStored bool
	for attempt := 0; ; attempt++ {
		created, remoteStored, err = s.repo.CreateUser(ctx, u)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= usernameRetries {
			return ApprovalOutcome{}, err
		}
		u.Username, err = auth.MutateUsername(u.Username)
		if err != nil {
			return ApprovalOutcome{}, err
		}
	}
	username = created.Username

	decided, err := s.repo.DecideApplication(ctx, appID, repo.Decision{
		Status:   models.ApplicationApproved,
		Username: username,
	})
	if err != nil {
		// The account exists but the application stayed pending (typically a
		// concurrent decision). Leave a trace and surface the conflict.
		meta, _ := json.Marshal(map[string]string{"application_id": appID, "user_id": created.ID, "error": err.Error()})
		_ = s.st.InsertAudit(ctx, adminID, "application.approve_incomplete", appID, string(meta))
		return ApprovalOutcome{}, err
	}

	if err := s.provision.UpsertActiveMember(ctx, username, created.Email, created.PasswordHash); err != nil {
		msg := err.Error()
		_ = s.st.UpdateDirectoryState(ctx, created.ID, "error", &msg)
		created.DirectoryState = "error"
		created.DirectoryError = &msg
	} else {
		_ = s.st.UpdateDirectoryState(ctx, created.ID, "ok", nil)
		created.DirectoryState = "ok"
	}

	emailRes := s.sender.SendApprovalEmail(ctx, decided, username, password)

	meta, _ := json.Marshal(map[string]any{
		"application_id": appID,
		"user_id":        created.ID,
		"username":       username,
		"email_sent":     emailRes.Success,
		"remote_stored":  remoteStored,
	})
	_ = s.st.InsertAudit(ctx, adminID, "application.approve", appID, string(meta))

	return ApprovalOutcome{
		Application:  decided,
		User:         created,
		Password:     password,
		EmailResult:  emailRes,
		RemoteStored: remoteStored,
	}, nil
}

// RejectApplication transitions a pending application to rejected. A
// non-empty reason is required; it is stored and mailed to the applicant.
func (s *Service) RejectApplication(ctx context.Context, adminID, appID, reason string) (models.Application, notify.Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Application{}, notify.Result{}, validationErr("reason", "required")
	}
	a, err := s.repo.GetApplication(ctx, appID)
	if err != nil {
		return models.Application{}, notify.Result{}, err
	}
	if a.Status != models.ApplicationPending {
		return models.Application{}, notify.Result{}, store.ErrConflict
	}

	decided, err := s.repo.DecideApplication(ctx, appID, repo.Decision{
		Status: models.ApplicationRejected,
		Reason: reason,
	})
	if err != nil {
		return models.Application{}, notify.Result{}, err
	}

	emailRes := s.sender.SendRejectionEmail(ctx, decided, reason)

	meta, _ := json.Marshal(map[string]any{"application_id": appID, "reason": reason, "email_sent": emailRes.Success})
	_ = s.st.InsertAudit(ctx, adminID, "application.reject", appID, string(meta))
	return decided, emailRes, nil
}

// ReconcileApplications replays decisions that were applied while the
// backend was unreachable.
func (s *Service) ReconcileApplications(ctx context.Context, adminID string) (reconciled, remaining []string, err error) {
	reconciled, remaining, err = s.repo.ReconcilePending(ctx)
	if err != nil {
		return nil, nil, err
	}
	meta, _ := json.Marshal(map[string]any{"reconciled": len(reconciled), "remaining": len(remaining)})
	_ = s.st.InsertAudit(ctx, adminID, "application.reconcile", "", string(meta))
	return reconciled, remaining, nil
}

func (s *Service) Login(ctx context.Context, username, password, ip, userAgent string) (string, models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return "", models.User{}, ErrInvalidCredentials
	}

	windowStart := time.Now().UTC().Truncate(loginWindow)
	attempts, err := s.st.IncrementRateEvent(ctx, username, "login", windowStart)
	if err != nil {
		return "", models.User{}, err
	}
	if attempts > s.cfg.MaxLoginAttempts {
		return "", models.User{}, ErrTooManyAttempts
	}

	u, err := s.st.GetUserByUsername(ctx, username)
	if err != nil {
		// burn the same time as a real verification so the response does not
		// reveal whether the username exists
		_ = auth.Verify("$argon2id$v=19$m=65536,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", password)
		return "", models.User{}, ErrInvalidCredentials
	}
	if !auth.Verify(u.PasswordHash, password) {
		return "", models.User{}, ErrInvalidCredentials
	}
	if u.Status != models.UserActive {
		return "", models.User{}, ErrInactiveAccount
	}

	raw, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return "", models.User{}, err
	}
	now := time.Now().UTC()
	sess := models.Session{
		ID:            uuid.NewString(),
		UserID:        u.ID,
		TokenHash:     tokenHash,
		IPHint:        ip,
		UserAgentHash: auth.HashToken(userAgent),
		ExpiresAt:     now.Add(s.cfg.SessionAbsoluteDuration()),
		IdleExpiresAt: now.Add(s.cfg.SessionIdleDuration()),
		CreatedAt:     now,
		LastSeenAt:    now,
	}
	if err := s.st.CreateSession(ctx, sess); err != nil {
		return "", models.User{}, err
	}
	_ = s.st.TouchUserLastLogin(ctx, u.ID, now)
	_ = s.st.DeleteRateEvents(ctx, username, "login")
	return raw, u, nil
}

func (s *Service) ValidateSession(ctx context.Context, rawToken string) (models.User, models.Session, error) {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) || now.After(sess.IdleExpiresAt) {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	_ = s.st.TouchSession(ctx, sess.ID, now.Add(s.cfg.SessionIdleDuration()))

	u, err := s.st.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	if u.Status != models.UserActive {
		return models.User{}, models.Session{}, ErrForbidden
	}
	return u, sess, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return nil
	}
	return s.st.RevokeSession(ctx, sess.ID)
}

func (s *Service) ChangeOwnPassword(ctx context.Context, userID, current, next string) error {
	if len(next) < s.cfg.PasswordMinLength {
		return validationErr("password", fmt.Sprintf("must be at least %d characters", s.cfg.PasswordMinLength))
	}
	if len(next) > s.cfg.PasswordMaxLength {
		return validationErr("password", "too long")
	}
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.Verify(u.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.st.UpdateUserPasswordHash(ctx, u.ID, hash); err != nil {
		return err
	}
	if err := s.provision.UpsertActiveMember(ctx, u.Username, u.Email, hash); err != nil {
		msg := err.Error()
		_ = s.st.UpdateDirectoryState(ctx, u.ID, "error", &msg)
	} else {
		_ = s.st.UpdateDirectoryState(ctx, u.ID, "ok", nil)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.st.ListUsers(ctx, limit, offset)
}

func (s *Service) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.st.GetUserByID(ctx, id)
}

func (s *Service) DeactivateUser(ctx context.Context, adminID, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.provision.DisableMember(ctx, u.Username); err != nil {
		return err
	}
	if err := s.st.UpdateUserStatus(ctx, userID, models.UserInactive); err != nil {
		return err
	}
	if err := s.st.RevokeUserSessions(ctx, userID); err != nil {
		return err
	}
	return s.st.InsertAudit(ctx, adminID, "user.deactivate", userID, `{}`)
}

func (s *Service) ReactivateUser(ctx context.Context, adminID, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.provision.UpsertActiveMember(ctx, u.Username, u.Email, u.PasswordHash); err != nil {
		msg := err.Error()
		_ = s.st.UpdateDirectoryState(ctx, u.ID, "error", &msg)
		return err
	}
	_ = s.st.UpdateDirectoryState(ctx, u.ID, "ok", nil)
	if err := s.st.UpdateUserStatus(ctx, userID, models.UserActive); err != nil {
		return err
	}
	return s.st.InsertAudit(ctx, adminID, "user.reactivate", userID, `{}`)
}

// NewMemberInput is the admin-created account payload. Username and password
// are generated when left empty.
type NewMemberInput struct {
	FullName string
	Email    string
	Username string
	Password string
}

// CreateMember creates an account directly, outside the application workflow.
// The generated password is returned once so the admin can hand it over.
func (s *Service) CreateMember(ctx context.Context, adminID string, in NewMemberInput) (models.User, string, bool, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if in.FullName == "" {
		return models.User{}, "", false, validationErr("full_name", "required")
	}
	if in.Email == "" {
		return models.User{}, "", false, validationErr("email", "required")
	}
	if _, err := netmail.ParseAddress(in.Email); err != nil {
		return models.User{}, "", false, validationErr("email", "not a valid address")
	}

	username := in.Username
	var err error
	if username == "" {
		username, err = auth.GenerateUsername(in.FullName)
		if err != nil {
			return models.User{}, "", false, err
		}
	}
	password := in.Password
	if password == "" {
		password, err = auth.GeneratePassword()
		if err != nil {
			return models.User{}, "", false, err
		}
	} else if len(password) < s.cfg.PasswordMinLength || len(password) > s.cfg.PasswordMaxLength {
		return models.User{}, "", false, validationErr("password", "length out of bounds")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, "", false, err
	}

	u := models.User{
		ID:           uuid.NewString(),
		FullName:     in.FullName,
		Email:        in.Email,
		Username:     username,
		PasswordHash: hash,
		Role:         "member",
		Status:       models.UserActive,
	}
	var created models.User
	var remoteStored bool
	for attempt := 0; ; attempt++ {
		created, remoteStored, err = s.repo.CreateUser(ctx, u)
		if err == nil {
			break
		}
		// a requested username is not silently rewritten; only generated
		// ones retry with a new suffix
		if in.Username != "" || !errors.Is(err, store.ErrConflict) || attempt >= usernameRetries {
			return models.User{}, "", false, err
		}
		u.Username, err = auth.MutateUsername(u.Username)
		if err != nil {
			return models.User{}, "", false, err
		}
	}

	if err := s.provision.UpsertActiveMember(ctx, created.Username, created.Email, created.PasswordHash); err != nil {
		msg := err.Error()
		_ = s.st.UpdateDirectoryState(ctx, created.ID, "error", &msg)
		created.DirectoryState = "error"
		created.DirectoryError = &msg
	} else {
		_ = s.st.UpdateDirectoryState(ctx, created.ID, "ok", nil)
		created.DirectoryState = "ok"
	}

	meta, _ := json.Marshal(map[string]any{"user_id": created.ID, "username": created.Username, "remote_stored": remoteStored})
	_ = s.st.InsertAudit(ctx, adminID, "user.create", created.ID, string(meta))
	return created, password, remoteStored, nil
}

// ResetUserPassword issues a fresh generated password for an account, revokes
// its sessions and re-provisions the directory entry.
func (s *Service) ResetUserPassword(ctx context.Context, adminID, userID string) (string, error) {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	password, err := auth.GeneratePassword()
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}
	if err := s.st.UpdateUserPasswordHash(ctx, userID, hash); err != nil {
		return "", err
	}
	if err := s.st.RevokeUserSessions(ctx, userID); err != nil {
		return "", err
	}
	if u.Status == models.UserActive {
		if err := s.provision.UpsertActiveMember(ctx, u.Username, u.Email, hash); err != nil {
			msg := err.Error()
			_ = s.st.UpdateDirectoryState(ctx, u.ID, "error", &msg)
		} else {
			_ = s.st.UpdateDirectoryState(ctx, u.ID, "ok", nil)
		}
	}
	_ = s.st.InsertAudit(ctx, adminID, "user.reset_password", userID, `{}`)
	return password, nil
}

func (s *Service) RetryDirectoryProvision(ctx context.Context, adminID, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.provision.UpsertActiveMember(ctx, u.Username, u.Email, u.PasswordHash); err != nil {
		msg := err.Error()
		_ = s.st.UpdateDirectoryState(ctx, u.ID, "error", &msg)
		return err
	}
	_ = s.st.UpdateDirectoryState(ctx, u.ID, "ok", nil)
	meta, _ := json.Marshal(map[string]string{"user_id": userID})
	return s.st.InsertAudit(ctx, adminID, "user.retry_provision", userID, string(meta))
}

func (s *Service) DeleteUser(ctx context.Context, adminID, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == "admin" {
		return ErrForbidden
	}
	if err := s.provision.DisableMember(ctx, u.Username); err != nil {
		return err
	}
	certs, err := s.st.ListCertificatesByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range certs {
		if s.storage != nil {
			_ = s.storage.Remove(c.StoredName)
		}
	}
	if err := s.st.DeleteUser(ctx, userID); err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]string{"user_id": userID, "username": u.Username})
	return s.st.InsertAudit(ctx, adminID, "user.delete", userID, string(meta))
}

// UploadCertificate stores a PDF for a member. The caller streams the file
// body; metadata lands in the database, bytes on disk.
func (s *Service) UploadCertificate(ctx context.Context, adminID, userID, originalName, contentType string, body io.Reader) (models.Certificate, error) {
	if _, err := s.st.GetUserByID(ctx, userID); err != nil {
		return models.Certificate{}, err
	}
	storedName, size, err := s.storage.Save(body)
	if err != nil {
		return models.Certificate{}, err
	}
	cert, err := s.st.CreateCertificate(ctx, models.Certificate{
		ID:           uuid.NewString(),
		UserID:       userID,
		StoredName:   storedName,
		OriginalName: strings.TrimSpace(originalName),
		ContentType:  contentType,
		SizeBytes:    size,
	})
	if err != nil {
		_ = s.storage.Remove(storedName)
		return models.Certificate{}, err
	}
	meta, _ := json.Marshal(map[string]any{"certificate_id": cert.ID, "user_id": userID, "size_bytes": size})
	_ = s.st.InsertAudit(ctx, adminID, "certificate.upload", cert.ID, string(meta))
	return cert, nil
}

func (s *Service) ListUserCertificates(ctx context.Context, userID string) ([]models.Certificate, error) {
	return s.st.ListCertificatesByUser(ctx, userID)
}

func (s *Service) DeleteCertificate(ctx context.Context, adminID, certID string) error {
	cert, err := s.st.GetCertificateByID(ctx, certID)
	if err != nil {
		return err
	}
	if err := s.st.DeleteCertificate(ctx, certID); err != nil {
		return err
	}
	_ = s.storage.Remove(cert.StoredName)
	meta, _ := json.Marshal(map[string]string{"certificate_id": certID, "user_id": cert.UserID})
	return s.st.InsertAudit(ctx, adminID, "certificate.delete", certID, string(meta))
}

// IssueCertificateDownload returns a short-lived signed token for fetching a
// certificate the member owns.
func (s *Service) IssueCertificateDownload(ctx context.Context, userID, certID string) (string, error) {
	cert, err := s.st.GetCertificateByID(ctx, certID)
	if err != nil {
		return "", err
	}
	if cert.UserID != userID {
		return "", ErrForbidden
	}
	return s.tokens.IssueDownloadToken(userID, certID)
}

// OpenCertificateByToken validates a download token and opens the underlying
// file, recording the download.
func (s *Service) OpenCertificateByToken(ctx context.Context, token string) (models.Certificate, io.ReadSeekCloser, int64, error) {
	userID, certID, err := s.tokens.VerifyDownloadToken(token)
	if err != nil {
		return models.Certificate{}, nil, 0, ErrForbidden
	}
	cert, err := s.st.GetCertificateByID(ctx, certID)
	if err != nil {
		return models.Certificate{}, nil, 0, err
	}
	if cert.UserID != userID {
		return models.Certificate{}, nil, 0, ErrForbidden
	}
	f, size, err := s.storage.Open(cert.StoredName)
	if err != nil {
		return models.Certificate{}, nil, 0, err
	}
	if err := s.st.RecordCertificateDownload(ctx, cert.ID, userID); err != nil {
		_ = f.Close()
		return models.Certificate{}, nil, 0, err
	}
	return cert, f, size, nil
}

// DashboardStats is the admin landing payload.
type DashboardStats struct {
	Pending        int  `json:"pending"`
	Approved       int  `json:"approved"`
	Rejected       int  `json:"rejected"`
	Members        int  `json:"members"`
	FallbackActive bool `json:"fallback_active"`
	Unreconciled   int  `json:"unreconciled"`
}

func (s *Service) Dashboard(ctx context.Context) (DashboardStats, error) {
	counts, err := s.st.CountApplicationsByStatus(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	members, err := s.st.CountUsers(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	pendingRec, err := s.st.ListReconciliationPending(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	return DashboardStats{
		Pending:        counts[models.ApplicationPending],
		Approved:       counts[models.ApplicationApproved],
		Rejected:       counts[models.ApplicationRejected],
		Members:        members,
		FallbackActive: s.repo.FallbackActive(),
		Unreconciled:   len(pendingRec),
	}, nil
}

func (s *Service) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	return s.st.ListAudit(ctx, limit, offset)
}
