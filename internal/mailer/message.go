package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// build renders msg as an RFC 5322 message, wrapped in PGP/MIME when a
// public key is configured.
func (m *Mailer) build(msg Message) ([]byte, error) {
	if m.cfg.PGPPublicKeyPath != "" {
		return m.buildEncrypted(msg)
	}

	body, contentType, err := buildMIMEBody(msg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	m.writeHeaders(&buf, msg, contentType)
	buf.Write(body)
	return buf.Bytes(), nil
}

func (m *Mailer) writeHeaders(buf *bytes.Buffer, msg Message, contentType string) {
	from := msg.From
	if from == "" {
		from = m.cfg.From
	}
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}

	fmt.Fprintf(buf, "From: %s\r\n", from)
	fmt.Fprintf(buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	fmt.Fprintf(buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeHeader(msg.Subject)))
	fmt.Fprintf(buf, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(buf, "Content-Type: %s\r\n", contentType)
	buf.WriteString("\r\n")
}

// buildMIMEBody returns the multipart/mixed body of msg and its
// Content-Type header value.
func buildMIMEBody(msg Message) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if msg.Body != "" {
		textHeader := textproto.MIMEHeader{}
		textHeader.Set("Content-Type", "text/plain; charset=utf-8")
		textPart, err := writer.CreatePart(textHeader)
		if err != nil {
			return nil, "", err
		}
		if _, err := textPart.Write([]byte(msg.Body)); err != nil {
			return nil, "", err
		}
	}

	if att := msg.Attachment; att != nil {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		attHeader := textproto.MIMEHeader{}
		attHeader.Set("Content-Type", mime.FormatMediaType(mediaType(contentType), withName(contentType, att.Filename)))
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))

		attPart, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, "", err
		}

		encoded := base64.StdEncoding.EncodeToString(att.Data)
		// RFC 2045 line length
		for i := 0; i < len(encoded); i += 76 {
			end := min(i+76, len(encoded))
			if _, err := attPart.Write([]byte(encoded[i:end] + "\r\n")); err != nil {
				return nil, "", err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + writer.Boundary(), nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

func withName(contentType, name string) map[string]string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params == nil {
		params = map[string]string{}
	}
	params["name"] = name
	return params
}

// sanitizeHeader drops line breaks so a subject cannot inject headers.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
