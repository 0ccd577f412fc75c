package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"memberportal/internal/config"
	"memberportal/internal/files"
	"memberportal/internal/middleware"
	"memberportal/internal/models"
	"memberportal/internal/rate"
	"memberportal/internal/service"
	"memberportal/internal/store"
	"memberportal/internal/util"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	limiter *rate.Limiter
}

const maxJSONBytes = 1 << 20

func NewRouter(cfg config.Config, svc *service.Service) http.Handler {
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		limiter: rate.NewLimiter(),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.HealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "submit", 10, time.Minute, h.cfg.TrustProxy)).
			Post("/applications", h.SubmitApplication)
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, h.cfg.TrustProxy)).
			Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/certificates/download", h.DownloadCertificate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(h.svc, h.cfg.SessionCookieName))
			r.Get("/me", h.Me)
			r.Get("/me/certificates", h.MyCertificates)

			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFFromCookie(h.cfg.CSRFCookieName))
				r.Post("/me/password", h.ChangePassword)
				r.Post("/me/certificates/{id}/download-token", h.CertificateDownloadToken)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminOnly)
				r.Get("/dashboard", h.AdminDashboard)
				r.Get("/applications", h.AdminListApplications)
				r.Get("/applications/{id}", h.AdminGetApplication)
				r.Get("/users", h.AdminListUsers)
				r.Get("/users/{id}/certificates", h.AdminListUserCertificates)
				r.Get("/audit-log", h.AdminAuditLog)
				r.Group(func(r chi.Router) {
					r.Use(middleware.CSRFFromCookie(h.cfg.CSRFCookieName))
					r.Post("/applications/{id}/approve", h.AdminApproveApplication)
					r.Post("/applications/{id}/reject", h.AdminRejectApplication)
					r.Delete("/applications/{id}", h.AdminDeleteApplication)
					r.Post("/applications/reconcile", h.AdminReconcile)
					r.Post("/users", h.AdminCreateUser)
					r.Post("/users/{id}/reset-password", h.AdminResetUserPassword)
					r.Post("/users/{id}/deactivate", h.AdminDeactivateUser)
					r.Post("/users/{id}/reactivate", h.AdminReactivateUser)
					r.Post("/users/{id}/retry-provision", h.AdminRetryProvision)
					r.Delete("/users/{id}", h.AdminDeleteUser)
					r.Post("/users/{id}/certificates", h.AdminUploadCertificate)
					r.Delete("/certificates/{id}", h.AdminDeleteCertificate)
				})
			})
		})
	})

	return r
}

func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at":      time.Now().UTC().Format(time.RFC3339),
		"fallback_active": h.svc.FallbackActive(),
	}
	if _, err := h.svc.Dashboard(r.Context()); err != nil {
		ready["status"] = "degraded"
		ready["error"] = err.Error()
		util.WriteJSON(w, 503, ready)
		return
	}
	ready["status"] = "ready"
	util.WriteJSON(w, 200, ready)
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrValidation):
		util.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), rid)
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "record not found", rid)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "already decided or duplicate", rid)
	case errors.Is(err, service.ErrTooManyAttempts):
		util.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later", rid)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password", rid)
	case errors.Is(err, service.ErrInactiveAccount):
		util.WriteError(w, http.StatusForbidden, "inactive_account", "account is inactive", rid)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, http.StatusForbidden, "forbidden", "not allowed", rid)
	case errors.Is(err, files.ErrNotPDF), errors.Is(err, files.ErrEmptyFile):
		util.WriteError(w, http.StatusBadRequest, "invalid_file", err.Error(), rid)
	case errors.Is(err, files.ErrTooLarge):
		util.WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), rid)
	default:
		util.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), rid)
	}
}

func (h *Handlers) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName     string `json:"full_name"`
		Email        string `json:"email"`
		Phone        string `json:"phone"`
		Position     string `json:"position"`
		School       string `json:"school"`
		RegionalUnit string `json:"regional_unit"`
		BranchUnit   string `json:"branch_unit"`
		Education    string `json:"education"`
		Experience   string `json:"experience"`
	}
	if err := util.DecodeJSON(r, &req, maxJSONBytes); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	a, notifyRes, err := h.svc.SubmitApplication(r.Context(), models.NewApplication{
		FullName:     req.FullName,
		Email:        req.Email,
		Phone:        req.Phone,
		Position:     req.Position,
		School:       req.School,
		RegionalUnit: req.RegionalUnit,
		BranchUnit:   req.BranchUnit,
		Education:    req.Education,
		Experience:   req.Experience,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"application":        a,
		"admin_notification": notifyRes,
	})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := util.DecodeJSON(r, &req, maxJSONBytes); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	token, user, err := h.svc.Login(r.Context(), req.Username, req.Password, ip, r.UserAgent())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.limiter.Reset("login:" + ip)

	csrfToken := randomToken()
	h.setAuthCookies(w, r, token, csrfToken)
	util.WriteJSON(w, 200, map[string]string{
		"user_id":    user.ID,
		"username":   user.Username,
		"full_name":  user.FullName,
		"role":       user.Role,
		"csrf_token": csrfToken,
	})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	c, _ := r.Cookie(h.cfg.SessionCookieName)
	if c != nil && c.Value != "" {
		_ = h.svc.Logout(r.Context(), c.Value)
	}
	h.clearAuthCookies(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, u)
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := util.DecodeJSON(r, &req, maxJSONBytes); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	if err := h.svc.ChangeOwnPassword(r.Context(), u.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) MyCertificates(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	certs, err := h.svc.ListUserCertificates(r.Context(), u.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": certs})
}

func (h *Handlers) CertificateDownloadToken(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	certID := chi.URLParam(r, "id")
	token, err := h.svc.IssueCertificateDownload(r.Context(), u.ID, certID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{
		"token": token,
		"url":   "/api/v1/certificates/download?token=" + token,
	})
}

func (h *Handlers) DownloadCertificate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		util.WriteError(w, 400, "bad_request", "missing token", middleware.RequestID(r.Context()))
		return
	}
	cert, f, size, err := h.svc.OpenCertificateByToken(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer f.Close()
	name := cert.OriginalName
	if name == "" {
		name = "certificate.pdf"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = io.Copy(w, f)
}

func (h *Handlers) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Dashboard(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, stats)
}

func (h *Handlers) AdminListApplications(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListApplications(r.Context(), status, pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"page":            page,
		"page_size":       pageSize,
		"items":           items,
		"fallback_active": h.svc.FallbackActive(),
	})
}

func (h *Handlers) AdminGetApplication(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, a)
}

func (h *Handlers) AdminApproveApplication(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	var req struct {
		Username string `json:"username"`
	}
	if r.ContentLength > 0 {
		if err := util.DecodeJSON(r, &req, maxJSONBytes); err != nil {
			util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
			return
		}
	}
	out, err := h.svc.ApproveApplication(r.Context(), admin.ID, chi.URLParam(r, "id"), req.Username)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"application":   out.Application,
		"user_id":       out.User.ID,
		"username":      out.User.Username,
		"password":      out.Password,
		"email":         out.EmailResult,
		"remote_stored": out.RemoteStored,
	})
}

func (h *Handlers) AdminRejectApplication(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if err := util.DecodeJSON(r, &req, maxJSONBytes); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	a, emailRes, err := h.svc.RejectApplication(r.Context(), admin.ID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"application": a, "email": emailRes})
}

func (h *Handlers) AdminDeleteApplication(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	if err := h.svc.DeleteApplication(r.Context(), admin.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (h *Handlers) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	reconciled, remaining, err := h.svc.ReconcileApplications(r.Context(), admin.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"reconciled": reconciled,
		"remaining":  remaining,
	})
}

func (h *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListUsers(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"page": page, "page_size": pageSize, "items": items})
}

func (h *Handlers) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := util.DecodeJSON(r, &req, maxJSONBytes); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	u, password, remoteStored, err := h.svc.CreateMember(r.Context(), admin.ID, service.NewMemberInput{
		FullName: req.FullName,
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"user":          u,
		"password":      password,
		"remote_stored": remoteStored,
	})
}

func (h *Handlers) AdminResetUserPassword(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	password, err := h.svc.ResetUserPassword(r.Context(), admin.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"password": password})
}

func (h *Handlers) AdminDeactivateUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	if err := h.svc.DeactivateUser(r.Context(), admin.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "inactive"})
}

func (h *Handlers) AdminReactivateUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	if err := h.svc.ReactivateUser(r.Context(), admin.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "active"})
}

func (h *Handlers) AdminRetryProvision(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	if err := h.svc.RetryDirectoryProvision(r.Context(), admin.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	if err := h.svc.DeleteUser(r.Context(), admin.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (h *Handlers) AdminUploadCertificate(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	userID := chi.URLParam(r, "id")
	if err := r.ParseMultipartForm(h.cfg.MaxCertUploadBytes); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid multipart form", middleware.RequestID(r.Context()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		util.WriteError(w, 400, "bad_request", "missing file field", middleware.RequestID(r.Context()))
		return
	}
	defer file.Close()

	cert, err := h.svc.UploadCertificate(r.Context(), admin.ID, userID, header.Filename, "application/pdf", file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, cert)
}

func (h *Handlers) AdminListUserCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := h.svc.ListUserCertificates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": certs})
}

func (h *Handlers) AdminDeleteCertificate(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.User(r.Context())
	if err := h.svc.DeleteCertificate(r.Context(), admin.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (h *Handlers) AdminAuditLog(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListAudit(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"page": page, "page_size": pageSize, "items": items})
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 25
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return page, pageSize
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func (h *Handlers) setAuthCookies(w http.ResponseWriter, r *http.Request, sessionToken, csrfToken string) {
	secure := h.cfg.ResolveCookieSecure(r)
	maxAge := int(h.cfg.SessionAbsoluteDuration().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter, r *http.Request) {
	secure := h.cfg.ResolveCookieSecure(r)
	expiredAt := time.Unix(1, 0).UTC()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  expiredAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  expiredAt,
	})
}
