package notify

import (
	"context"
	"fmt"
	"log"

	"memberportal/internal/models"
)

// Result reports the outcome of a notification attempt. Sends never block the
// operation that triggered them: callers surface Result in their response and
// proceed regardless.
type Result struct {
	Success  bool   `json:"success"`
	Category string `json:"errorCategory,omitempty"`
	Attempts int    `json:"attempts"`
}

type Sender interface {
	// SendAdminNotification alerts administrators that a new application
	// was submitted.
	SendAdminNotification(ctx context.Context, app models.Application) Result
	// SendApprovalEmail delivers the generated credentials to an approved
	// applicant.
	SendApprovalEmail(ctx context.Context, app models.Application, username, password string) Result
	// SendRejectionEmail informs the applicant of the rejection and its
	// reason.
	SendRejectionEmail(ctx context.Context, app models.Application, reason string) Result
}

func adminSubject(app models.Application) string {
	return "Pendaftaran anggota baru: " + app.FullName
}

func adminBody(app models.Application) string {
	return fmt.Sprintf(
		"Pendaftaran baru menunggu persetujuan.\n\nNama: %s\nEmail: %s\nTelepon: %s\nJabatan: %s\nSekolah: %s\nPC: %s\nDiajukan: %s\n",
		app.FullName, app.Email, app.Phone, app.Position, app.School,
		app.BranchUnit, app.SubmittedAt.Format("2006-01-02 15:04:05"))
}

func approvalSubject() string {
	return "Pendaftaran Anda disetujui"
}

func approvalBody(app models.Application, username, password string) string {
	return fmt.Sprintf(
		"Halo %s,\n\nPendaftaran keanggotaan Anda telah disetujui.\n\nUsername: %s\nPassword: %s\n\nSilakan masuk dan segera ganti password Anda.\n",
		app.FullName, username, password)
}

func rejectionSubject() string {
	return "Pendaftaran Anda ditolak"
}

func rejectionBody(app models.Application, reason string) string {
	return fmt.Sprintf(
		"Halo %s,\n\nMohon maaf, pendaftaran keanggotaan Anda belum dapat kami setujui.\n\nAlasan: %s\n\nAnda dapat mendaftar kembali setelah melengkapi persyaratan.\n",
		app.FullName, reason)
}

// LogSender writes notifications to the process log. Used in development and
// as the fallback when no delivery backend is configured.
type LogSender struct{}

func (LogSender) SendAdminNotification(_ context.Context, app models.Application) Result {
	log.Printf("notify: admin notification subject=%q applicant=%s", adminSubject(app), app.Email)
	return Result{Success: true, Attempts: 1}
}

func (LogSender) SendApprovalEmail(_ context.Context, app models.Application, username, _ string) Result {
	log.Printf("notify: approval email to=%s username=%s", app.Email, username)
	return Result{Success: true, Attempts: 1}
}

func (LogSender) SendRejectionEmail(_ context.Context, app models.Application, reason string) Result {
	log.Printf("notify: rejection email to=%s reason=%q", app.Email, reason)
	return Result{Success: true, Attempts: 1}
}
