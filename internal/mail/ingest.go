package mail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/smtp"

	"github.com/quill/printhold/internal/config"
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
)

// Ingestor accepts the (sender, attachment) hand-off from the mail
// poller. The sender address is resolved through the email mapping table
// before submission: a mapped sender owns the job outright, an unmapped
// one leaves it unclaimed with the address as the raw submitter. IMAP
// mechanics live outside this service.
type Ingestor struct {
	emails    *db.EmailMappingOperations
	submitter *core.Submitter
	cfg       config.MailConfig
}

func NewIngestor(emails *db.EmailMappingOperations, submitter *core.Submitter, cfg config.MailConfig) *Ingestor {
	return &Ingestor{emails: emails, submitter: submitter, cfg: cfg}
}

// Ingest submits one attachment and returns the spooler job id. A
// confirmation reply is sent best-effort when SMTP is configured.
func (i *Ingestor) Ingest(ctx context.Context, sender, filename string, data io.Reader) (int64, error) {
	if sender == "" {
		return 0, core.Validationf("sender address is required")
	}

	owner := ""
	account, err := i.emails.Lookup(ctx, sender)
	switch {
	case err == nil:
		owner = account
	case errors.Is(err, sql.ErrNoRows):
	default:
		return 0, err
	}

	jobID, err := i.submitter.Submit(ctx, core.SubmitInput{
		Filename:     filename,
		Data:         data,
		Owner:        owner,
		RawSubmitter: sender,
		Via:          db.ViaEmail,
	})
	if err != nil {
		return 0, err
	}

	i.sendConfirmation(sender, filename, jobID)
	return jobID, nil
}

func (i *Ingestor) sendConfirmation(to, filename string, jobID int64) {
	if i.cfg.SMTPHost == "" || i.cfg.SMTPUser == "" || i.cfg.SMTPPass == "" {
		return
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Print job received\r\n\r\n"+
		"Your file %q was submitted as job #%d.\r\n"+
		"Jobs are held until released from the dashboard or kiosk.\r\n",
		i.cfg.SMTPUser, to, filename, jobID)

	addr := fmt.Sprintf("%s:%d", i.cfg.SMTPHost, i.cfg.SMTPPort)
	auth := smtp.PlainAuth("", i.cfg.SMTPUser, i.cfg.SMTPPass, i.cfg.SMTPHost)
	if err := smtp.SendMail(addr, auth, i.cfg.SMTPUser, []string{to}, []byte(body)); err != nil {
		log.Printf("[mail] failed to send confirmation to %s: %v", to, err)
	}
}
