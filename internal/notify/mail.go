package notify

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

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/scheduler"
)

// EmailLookup resolves the address of a user. An empty address means the
// user cannot be mailed.
type EmailLookup interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

// SMTPConfig describes the outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

func (c SMTPConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type sendFunc func(ctx context.Context, host, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends a confirmation to the creator of each new reservation.
type Mailer struct {
	config SMTPConfig
	users  EmailLookup
	send   sendFunc
	logger *slog.Logger
}

// NewMailer constructs a Mailer. Delivery is skipped while config is not
// Enabled.
func NewMailer(config SMTPConfig, users EmailLookup, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		config: config,
		users:  users,
		send:   sendMail,
		logger: logger.With("component", "notify.Mailer"),
	}
}

// Name implements Sink.
func (m *Mailer) Name() string { return "mail" }

// Deliver implements Sink.
func (m *Mailer) Deliver(ctx context.Context, event application.Event) error {
	if event.Type != application.EventReservationCreated || !m.config.Enabled() || m.users == nil {
		return nil
	}
	to, err := m.users.LookupEmail(ctx, event.ActorID)
	if err != nil {
		return fmt.Errorf("lookup email of %s: %w", event.ActorID, err)
	}
	to = sanitizeHeader(to)
	if to == "" {
		m.logger.Debug("no address on file, confirmation skipped", "actor_id", event.ActorID)
		return nil
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}
	if err := m.send(ctx, m.config.Host, m.config.addr(), auth, m.config.From, []string{to}, composeConfirmation(m.config.From, to, event)); err != nil {
		return fmt.Errorf("send confirmation to %s: %w", to, err)
	}
	m.logger.Info("confirmation sent", "reservation_id", event.ReservationID)
	return nil
}

// sendMail runs the same exchange as smtp.SendMail on a connection bound to
// ctx, so a stalled relay fails at the delivery deadline.
func sendMail(ctx context.Context, host, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func composeConfirmation(from, to string, event application.Event) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", sanitizeHeader(from))
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: Reservation confirmed: room %s\r\n", sanitizeHeader(event.RoomID))
	fmt.Fprintf(&sb, "Date: %s\r\n", event.OccurredAt.Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	fmt.Fprintf(&sb, "Your reservation %s is confirmed.\r\n\r\n", event.ReservationID)
	fmt.Fprintf(&sb, "Room:  %s\r\n", event.RoomID)
	fmt.Fprintf(&sb, "Start: %s\r\n", scheduler.FormatInstant(event.Window.Start))
	fmt.Fprintf(&sb, "End:   %s\r\n", scheduler.FormatInstant(event.Window.End))
	return []byte(sb.String())
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}
