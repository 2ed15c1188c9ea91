package mail

import (
	"context"
	"fmt"
	"mime/quotedprintable"
	"net/smtp"
	"strings"

	coreerrors "github.com/form4watch/signal-engine/internal/core/errors"
)

// SMTPConfig configures the SMTP adapter.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMTPSender sends messages over plain SMTP with optional auth. It is the
// minimal concrete adapter behind the Sender port; anything protocol-specific
// beyond multipart framing stays out of the engine.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("%w: smtp host and from address required", coreerrors.ErrMailUnavailable)
	}

	return &SMTPSender{cfg: cfg}, nil
}

// Send delivers one message. The context is honored only between dial
// attempts; net/smtp itself is not context-aware.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send cancelled: %w", err)
	}

	if msg.To == "" {
		return coreerrors.ErrMissingRecipient
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}

	body, err := buildMIME(s.cfg.From, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{msg.To}, body); err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrMailUnavailable, err)
	}

	return nil
}

const mimeBoundary = "f4w-alt-boundary"

func buildMIME(from string, msg Message) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	} {
		if part.content == "" {
			continue
		}

		fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
		fmt.Fprintf(&b, "Content-Type: %s\r\n", part.contentType)
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

		w := quotedprintable.NewWriter(&b)
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("encode part: %w", err)
		}

		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close part: %w", err)
		}

		b.WriteString("\r\n")
	}

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)

	return []byte(b.String()), nil
}
