package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/Arakas181/ML-HUB-sub000/config"
)

// InviteNotifier уведомляет пользователя о приглашении в команду.
// Доставка best-effort: вызывающая сторона логирует ошибку и продолжает.
type InviteNotifier interface {
	NotifyInvite(ctx context.Context, email, teamName, tournamentName, token string) error
}

const inviteEmailTemplate = `
<p>Вас пригласили в команду <b>{{.TeamName}}</b> на турнир «{{.TournamentName}}».</p>
<p><a href="{{.AcceptLink}}">Принять приглашение</a> или <a href="{{.DeclineLink}}">отклонить</a>.</p>
<p>Ссылка действует 48 часов с момента приглашения.</p>`

var inviteEmailTmpl = template.Must(template.New("invite_email").Parse(inviteEmailTemplate))

// EmailService отправляет письма через SMTP портала.
type EmailService struct {
	cfg *config.Config
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{cfg: cfg}
}

// NotifyInvite реализует InviteNotifier.
func (s *EmailService) NotifyInvite(ctx context.Context, email, teamName, tournamentName, token string) error {
	data := struct {
		TeamName       string
		TournamentName string
		AcceptLink     string
		DeclineLink    string
	}{
		TeamName:       teamName,
		TournamentName: tournamentName,
		AcceptLink:     fmt.Sprintf("%s/invites/%s?response=accept", s.cfg.PublicURL, token),
		DeclineLink:    fmt.Sprintf("%s/invites/%s?response=decline", s.cfg.PublicURL, token),
	}

	var body bytes.Buffer
	if err := inviteEmailTmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("ошибка генерации тела письма-приглашения: %w", err)
	}

	subject := fmt.Sprintf("Приглашение в команду %s", teamName)
	return s.SendEmail([]string{email}, subject, body.String())
}

func (s *EmailService) SendEmail(to []string, subject string, body string) error {
	auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)

	msg := []byte("To: " + to[0] + "\r\n" +
		"From: " + s.cfg.SMTPFrom + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\r\n" +
		"\r\n" +
		body + "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	tlsconfig := &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         s.cfg.SMTPHost,
	}

	var client *smtp.Client
	if s.cfg.SMTPPort == 465 {
		// Прямое TLS-соединение (обычно порт 465)
		conn, err := tls.Dial("tcp", addr, tlsconfig)
		if err != nil {
			return fmt.Errorf("ошибка TLS соединения: %w", err)
		}
		defer conn.Close()
		client, err = smtp.NewClient(conn, s.cfg.SMTPHost)
		if err != nil {
			return fmt.Errorf("ошибка создания SMTP клиента: %w", err)
		}
	} else {
		// STARTTLS (обычно порт 587)
		c, err := smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("ошибка соединения SMTP: %w", err)
		}
		client = c
		if err = client.StartTLS(tlsconfig); err != nil {
			client.Close()
			return fmt.Errorf("ошибка команды STARTTLS: %w", err)
		}
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("ошибка аутентификации SMTP: %w", err)
	}

	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("ошибка MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("ошибка RCPT TO: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("ошибка команды DATA: %w", err)
	}

	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("ошибка записи сообщения: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия DATA: %w", err)
	}

	return nil
}
