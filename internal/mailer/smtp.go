package mailer

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/reportmail/internal/config"
)

// DefaultPort is the submission port used when the email section has none.
const DefaultPort = 587

// ErrNoSTARTTLS is returned when the server does not offer STARTTLS.
var ErrNoSTARTTLS = errors.New("mailer: server does not support STARTTLS")

// Config holds SMTP settings read from the email config section.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	// PGPPublicKeyPath, when set, switches messages to PGP/MIME.
	PGPPublicKeyPath string

	// HeloName is sent with EHLO. Defaults to "localhost".
	HeloName string

	// TLSConfig overrides the STARTTLS client configuration.
	TLSConfig *tls.Config
}

// NewConfigFromSection builds a Config from the email section. user and
// password are required; host is required unless a Config is assembled by
// hand.
func NewConfigFromSection(sec config.Section) (*Config, error) {
	port := DefaultPort
	if v := sec.Get("port", ""); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("email port %q: %w", v, err)
		}
		port = p
	}

	cfg := &Config{
		Host:             sec.Get("host", ""),
		Port:             port,
		User:             sec.Get("user", ""),
		Password:         sec.Get("password", ""),
		From:             sec.Get("from", sec.Get("user", "")),
		PGPPublicKeyPath: sec.Get("pgp_public_key", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing required options.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("email host is required")
	case c.User == "":
		return fmt.Errorf("email user is required")
	case c.Password == "":
		return fmt.Errorf("email password is required")
	}
	return nil
}

// Addr returns host:port for dialing.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Attachment is a file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outbound email.
type Message struct {
	From       string
	To         []string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Mailer sends messages over an authenticated STARTTLS session, one session
// per message.
type Mailer struct {
	cfg *Config

	// sendFn replaces the SMTP transport in tests.
	sendFn func(msg Message) error
	now    func() time.Time
}

// New returns a Mailer for cfg.
func New(cfg *Config) *Mailer {
	m := &Mailer{cfg: cfg, now: time.Now}
	m.sendFn = m.send
	return m
}

// Send delivers msg. An empty From is filled from the config.
func (m *Mailer) Send(msg Message) error {
	if msg.From == "" {
		msg.From = m.cfg.From
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("mailer: message has no recipients")
	}
	return m.sendFn(msg)
}

// SendReport attaches the file at path and sends it to the recipients. body
// may be empty.
func (m *Mailer) SendReport(to []string, subject, body, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	return m.Send(Message{
		To:      to,
		Subject: subject,
		Body:    body,
		Attachment: &Attachment{
			Filename:    filepath.Base(path),
			ContentType: "text/csv; charset=utf-8",
			Data:        data,
		},
	})
}

func (m *Mailer) send(msg Message) error {
	raw, err := m.build(msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	conn, err := net.Dial("tcp", m.cfg.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.cfg.Addr(), err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if err := m.deliver(c, msg.From, msg.To, raw); err != nil {
		return err
	}
	return c.Quit()
}

func (m *Mailer) deliver(c *smtp.Client, from string, to []string, raw []byte) error {
	helo := m.cfg.HeloName
	if helo == "" {
		helo = "localhost"
	}
	if err := c.Hello(helo); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return ErrNoSTARTTLS
	}
	tlsCfg := &tls.Config{ServerName: m.cfg.Host}
	if m.cfg.TLSConfig != nil {
		tlsCfg = m.cfg.TLSConfig.Clone()
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = m.cfg.Host
		}
	}
	if err := c.StartTLS(tlsCfg); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return nil
}
