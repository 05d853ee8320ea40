package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPNotifier delivers alerts to a fixed operations address. Port 465
// dials TLS directly; any other port negotiates STARTTLS when the server
// offers it.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
}

// NewSMTPNotifier creates an SMTPNotifier delivering to the given
// operations address.
func NewSMTPNotifier(host string, port int, username, password, from, to string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

// Notify delivers one plain-text alert message.
func (n *SMTPNotifier) Notify(_ context.Context, subject, body string) error {
	client, err := n.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if n.username != "" {
		auth := smtp.PlainAuth("", n.username, n.password, n.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("alert mail auth: %w", err)
		}
	}

	if err := client.Mail(n.from); err != nil {
		return fmt.Errorf("alert mail sender: %w", err)
	}
	if err := client.Rcpt(n.to); err != nil {
		return fmt.Errorf("alert mail recipient: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("alert mail data: %w", err)
	}
	if _, err := wc.Write(n.message(subject, body)); err != nil {
		return fmt.Errorf("alert mail body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("alert mail body: %w", err)
	}
	return client.Quit()
}

// connect dials the server and establishes TLS, implicitly on 465 and via
// STARTTLS elsewhere.
func (n *SMTPNotifier) connect() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	if n.port == 465 {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.host})
		if err != nil {
			return nil, fmt.Errorf("alert mail dial: %w", err)
		}
		client, err := smtp.NewClient(conn, n.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("alert mail handshake: %w", err)
		}
		return client, nil
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("alert mail dial: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("alert mail starttls: %w", err)
		}
	}
	return client, nil
}

// message assembles the MIME envelope for one alert.
func (n *SMTPNotifier) message(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", n.to)
	fmt.Fprintf(&b, "Subject: [uVote] %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
