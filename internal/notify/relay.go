package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"memberportal/internal/config"
	"memberportal/internal/models"
)

// RelaySender delivers mail through an EmailJS-compatible HTTP relay. The
// relay holds the actual SMTP credentials; we only pass a service id, a
// template id and the template parameters.
type RelaySender struct {
	url        string
	serviceID  string
	publicKey  string
	tplAdmin   string
	tplApprove string
	tplReject  string
	adminEmail string
	policy     RetryPolicy
	timeout    time.Duration
	client     *http.Client
}

func NewRelaySender(cfg config.Config) *RelaySender {
	return &RelaySender{
		url:        strings.TrimSpace(cfg.EmailRelayURL),
		serviceID:  strings.TrimSpace(cfg.EmailRelayServiceID),
		publicKey:  strings.TrimSpace(cfg.EmailRelayPublicKey),
		tplAdmin:   strings.TrimSpace(cfg.EmailTplAdminNotify),
		tplApprove: strings.TrimSpace(cfg.EmailTplApproval),
		tplReject:  strings.TrimSpace(cfg.EmailTplRejection),
		adminEmail: strings.TrimSpace(cfg.AdminEmail),
		policy:     RetryPolicy{Attempts: cfg.EmailRetryAttempts, BaseDelay: cfg.EmailRetryBase},
		timeout:    cfg.EmailAttemptTimeout,
		client:     &http.Client{},
	}
}

type relayRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	TemplateParams map[string]string `json:"template_params"`
}

func (s *RelaySender) send(ctx context.Context, templateID string, params map[string]string) Result {
	attempts := 0
	op := WithRetry(WithTimeout(func(ctx context.Context) error {
		attempts++
		return s.post(ctx, templateID, params)
	}, s.timeout), s.policy)

	if err := op(ctx); err != nil {
		cat := Classify(err)
		log.Printf("notify: relay send failed template=%s attempts=%d category=%s err=%v", templateID, attempts, cat, err)
		return Result{Success: false, Category: cat, Attempts: attempts}
	}
	return Result{Success: true, Attempts: attempts}
}

func (s *RelaySender) post(ctx context.Context, templateID string, params map[string]string) error {
	raw, err := json.Marshal(relayRequest{
		ServiceID:      s.serviceID,
		TemplateID:     templateID,
		UserID:         s.publicKey,
		TemplateParams: params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &relayError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return nil
}

func (s *RelaySender) SendAdminNotification(ctx context.Context, app models.Application) Result {
	if s.adminEmail == "" {
		log.Printf("notify: admin email not configured, skipping admin notification")
		return Result{Success: false, Category: CategoryUnknown}
	}
	return s.send(ctx, s.tplAdmin, map[string]string{
		"to_email":     s.adminEmail,
		"subject":      adminSubject(app),
		"message":      adminBody(app),
		"full_name":    app.FullName,
		"email":        app.Email,
		"phone":        app.Phone,
		"position":     app.Position,
		"school":       app.School,
		"submitted_at": app.SubmittedAt.Format("2006-01-02 15:04:05"),
	})
}

func (s *RelaySender) SendApprovalEmail(ctx context.Context, app models.Application, username, password string) Result {
	return s.send(ctx, s.tplApprove, map[string]string{
		"to_email":  app.Email,
		"subject":   approvalSubject(),
		"message":   approvalBody(app, username, password),
		"full_name": app.FullName,
		"username":  username,
		"password":  password,
	})
}

func (s *RelaySender) SendRejectionEmail(ctx context.Context, app models.Application, reason string) Result {
	return s.send(ctx, s.tplReject, map[string]string{
		"to_email":  app.Email,
		"subject":   rejectionSubject(),
		"message":   rejectionBody(app, reason),
		"full_name": app.FullName,
		"reason":    reason,
	})
}

var _ Sender = (*RelaySender)(nil)
