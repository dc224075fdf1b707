package mailer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"math/big"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// session is what the fake server saw during one SMTP conversation.
type session struct {
	commands []string
	auth     string
	from     string
	rcpts    []string
	data     []byte
	tls      bool
}

type fakeSMTP struct {
	ln        net.Listener
	tlsConfig *tls.Config
	starttls  bool
	done      chan session
}

func selfSignedCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

// startFakeSMTP serves exactly one connection on a loopback port.
func startFakeSMTP(t *testing.T, starttls bool) (*fakeSMTP, *x509.CertPool) {
	t.Helper()

	cert, pool := selfSignedCert(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &fakeSMTP{
		ln:        ln,
		tlsConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		starttls:  starttls,
		done:      make(chan session, 1),
	}
	go s.serve()
	return s, pool
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	var sess session
	defer func() { s.done <- sess }()

	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	tp.PrintfLine("220 fake ESMTP ready")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		sess.commands = append(sess.commands, verb)

		switch verb {
		case "EHLO":
			if sess.tls {
				tp.PrintfLine("250-fake greets you")
				tp.PrintfLine("250 AUTH PLAIN")
			} else if s.starttls {
				tp.PrintfLine("250-fake greets you")
				tp.PrintfLine("250 STARTTLS")
			} else {
				tp.PrintfLine("250 fake greets you")
			}
		case "STARTTLS":
			tp.PrintfLine("220 go ahead")
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			tp = textproto.NewConn(tlsConn)
			sess.tls = true
		case "AUTH":
			parts := strings.Fields(line)
			if len(parts) == 3 {
				decoded, _ := base64.StdEncoding.DecodeString(parts[2])
				sess.auth = string(decoded)
			}
			tp.PrintfLine("235 authenticated")
		case "MAIL":
			sess.from = extractAddr(line)
			tp.PrintfLine("250 ok")
		case "RCPT":
			sess.rcpts = append(sess.rcpts, extractAddr(line))
			tp.PrintfLine("250 ok")
		case "DATA":
			tp.PrintfLine("354 end with .")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			sess.data = data
			tp.PrintfLine("250 queued")
		case "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 not implemented")
		}
	}
}

func extractAddr(line string) string {
	start := strings.Index(line, "<")
	end := strings.LastIndex(line, ">")
	if start < 0 || end <= start {
		return ""
	}
	return line[start+1 : end]
}

func waitSession(t *testing.T, s *fakeSMTP) session {
	t.Helper()
	select {
	case sess := <-s.done:
		return sess
	case <-time.After(5 * time.Second):
		t.Fatal("fake SMTP server did not finish")
		return session{}
	}
}

func TestSend_STARTTLSSession(t *testing.T) {
	srv, pool := startFakeSMTP(t, true)

	m := New(&Config{
		Host:      "127.0.0.1",
		Port:      srv.port(),
		User:      "reports@example.org",
		Password:  "hunter2",
		From:      "reports@example.org",
		TLSConfig: &tls.Config{RootCAs: pool},
	})

	path := filepath.Join(t.TempDir(), "sales_03-03-2024.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,total\n1,9.5\n"), 0o600))

	err := m.SendReport([]string{"a@example.org", "b@example.org"}, "Sales: 03-03-2024", "", path)
	require.NoError(t, err)

	sess := waitSession(t, srv)
	require.True(t, sess.tls)
	require.Equal(t, []string{"EHLO", "STARTTLS", "EHLO", "AUTH", "MAIL", "RCPT", "RCPT", "DATA", "QUIT"}, sess.commands)
	require.Equal(t, "\x00reports@example.org\x00hunter2", sess.auth)
	require.Equal(t, "reports@example.org", sess.from)
	require.Equal(t, []string{"a@example.org", "b@example.org"}, sess.rcpts)

	_, parts, _ := parseMessage(t, sess.data)
	require.Len(t, parts, 1)
	require.Contains(t, parts[0].Header.Get("Content-Disposition"), "sales_03-03-2024.csv")
}

func TestSend_RefusesWithoutSTARTTLS(t *testing.T) {
	srv, _ := startFakeSMTP(t, false)

	m := New(&Config{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		User:     "u",
		Password: "p",
		From:     "reports@example.org",
	})

	err := m.Send(Message{To: []string{"a@example.org"}, Subject: "s"})
	require.True(t, errors.Is(err, ErrNoSTARTTLS), "got %v", err)

	sess := waitSession(t, srv)
	require.NotContains(t, sess.commands, "AUTH")
	require.NotContains(t, sess.commands, "MAIL")
}

func TestSend_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m := New(&Config{Host: "127.0.0.1", Port: port, User: "u", Password: "p", From: "f@example.org"})
	err = m.Send(Message{To: []string{"a@example.org"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial 127.0.0.1:"+strconv.Itoa(port))
}
