// AngelaMos | 2026
// sender.go

package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/angelamos/clinica-identity/internal/config"
)

// smtpTimeout bounds the whole exchange with the relay; a stalled relay
// must not hold the reset flow open.
const smtpTimeout = 10 * time.Second

// Sender delivers the transactional mail this service produces.
type Sender interface {
	SendPasswordResetCode(ctx context.Context, to, displayName, code string) error
}

type smtpSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) Sender {
	return &smtpSender{cfg: cfg}
}

func (s *smtpSender) SendPasswordResetCode(
	ctx context.Context,
	to, displayName, code string,
) error {
	msg := resetCodeMessage(s.cfg.From, to, displayName, code)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}

	deadline := time.Now().Add(smtpTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close() //nolint:errcheck // already failing
		return fmt.Errorf("set smtp deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // already failing
		return fmt.Errorf("smtp handshake: %w", err)
	}
	//nolint:errcheck // Quit already tore the session down on the happy path
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write smtp body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close smtp body: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}

	return nil
}

func resetCodeMessage(from, to, displayName, code string) string {
	greeting := "Hello,"
	if displayName != "" {
		greeting = "Hello " + displayName + ","
	}

	body := fmt.Sprintf(
		"%s\n\nYour password reset code is %s.\n\n"+
			"It expires in 10 minutes. If you did not request a reset, "+
			"you can ignore this message.\n",
		greeting,
		code,
	)

	return strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: Your password reset code",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")
}

// logSender writes the code to the log instead of sending mail. Used in
// development where no SMTP relay exists.
type logSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) Sender {
	return &logSender{logger: logger}
}

func (s *logSender) SendPasswordResetCode(
	ctx context.Context,
	to, displayName, code string,
) error {
	s.logger.Info("password reset code issued",
		"to", to,
		"name", displayName,
		"code", code,
	)
	return nil
}
