package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"challenge-platform/models"
)

// ErrEmailNotConfigured is returned when SMTP settings are missing.
var ErrEmailNotConfigured = errors.New("email not configured")

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (c SMTPConfig) configured() bool {
	return c.Host != "" && c.User != "" && c.Pass != "" && c.From != ""
}

// SMTPNotifier mails certificates as an SVG attachment.
type SMTPNotifier struct {
	Config SMTPConfig
	// send defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{Config: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) SendCertificate(ctx context.Context, email, name string, rank models.Rank, artifact []byte) error {
	if !n.Config.configured() {
		return ErrEmailNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := certificateMessage(n.Config.From, email, name, rank, artifact)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", n.Config.Host, n.Config.Port)
	auth := smtp.PlainAuth("", n.Config.User, n.Config.Pass, n.Config.Host)
	return n.send(addr, auth, n.Config.From, []string{email}, msg)
}

func certificateMessage(from, to, name string, rank models.Rank, artifact []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text, "Congratulations %s!\n\nYou reached the %s rank. Your certificate is attached.\n", name, rank.DisplayName())

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"image/svg+xml"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename="%s-certificate.svg"`, rank)},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(artifact)
	for len(encoded) > 76 {
		fmt.Fprintf(attachment, "%s\r\n", encoded[:76])
		encoded = encoded[76:]
	}
	fmt.Fprintf(attachment, "%s\r\n", encoded)
	if err := mw.Close(); err != nil {
		return nil, err
	}

	headers := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: Your " + rank.DisplayName() + " certificate",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + mw.Boundary(),
		"",
		"",
	}, "\r\n")
	return append([]byte(headers), body.Bytes()...), nil
}
