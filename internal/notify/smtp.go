package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"memberportal/internal/config"
	"memberportal/internal/models"
)

// SMTPSender delivers mail directly over SMTP. Message bodies are plain text;
// composition goes through go-message so headers are encoded correctly for
// non-ASCII names.
type SMTPSender struct {
	host     string
	port     int
	from     string
	user     string
	pass     string
	startTLS bool

	adminEmail string
	policy     RetryPolicy
	timeout    time.Duration
}

func NewSMTPSender(cfg config.Config) *SMTPSender {
	return &SMTPSender{
		host:       cfg.SMTPHost,
		port:       cfg.SMTPPort,
		from:       cfg.SMTPFrom,
		user:       cfg.SMTPUser,
		pass:       cfg.SMTPPass,
		startTLS:   cfg.SMTPStartTLS,
		adminEmail: strings.TrimSpace(cfg.AdminEmail),
		policy:     RetryPolicy{Attempts: cfg.EmailRetryAttempts, BaseDelay: cfg.EmailRetryBase},
		timeout:    cfg.EmailAttemptTimeout,
	}
}

func (s *SMTPSender) compose(to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: s.from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)

	mw, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(mw, body); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, raw []byte) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.startTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return err
			}
		}
	}
	if s.user != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.user, s.pass, s.host)); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (s *SMTPSender) send(ctx context.Context, to, subject, body string) Result {
	raw, err := s.compose(to, subject, body)
	if err != nil {
		log.Printf("notify: compose failed to=%s err=%v", to, err)
		return Result{Success: false, Category: CategoryUnknown}
	}

	attempts := 0
	op := WithRetry(WithTimeout(func(ctx context.Context) error {
		attempts++
		return s.deliver(ctx, to, raw)
	}, s.timeout), s.policy)

	if err := op(ctx); err != nil {
		cat := Classify(err)
		log.Printf("notify: smtp send failed to=%s attempts=%d category=%s err=%v", to, attempts, cat, err)
		return Result{Success: false, Category: cat, Attempts: attempts}
	}
	return Result{Success: true, Attempts: attempts}
}

func (s *SMTPSender) SendAdminNotification(ctx context.Context, app models.Application) Result {
	if s.adminEmail == "" {
		log.Printf("notify: admin email not configured, skipping admin notification")
		return Result{Success: false, Category: CategoryUnknown}
	}
	return s.send(ctx, s.adminEmail, adminSubject(app), adminBody(app))
}

func (s *SMTPSender) SendApprovalEmail(ctx context.Context, app models.Application, username, password string) Result {
	return s.send(ctx, app.Email, approvalSubject(), approvalBody(app, username, password))
}

func (s *SMTPSender) SendRejectionEmail(ctx context.Context, app models.Application, reason string) Result {
	return s.send(ctx, app.Email, rejectionSubject(), rejectionBody(app, reason))
}

var _ Sender = (*SMTPSender)(nil)
