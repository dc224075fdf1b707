package mailer

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// CanEncrypt returns nil if the configured PGP public key can be read and
// parsed.
func (m *Mailer) CanEncrypt() error {
	if m.cfg.PGPPublicKeyPath == "" {
		return fmt.Errorf("no PGP public key configured")
	}
	_, err := readKeyRing(m.cfg.PGPPublicKeyPath)
	return err
}

// buildEncrypted builds a PGP/MIME encrypted message (RFC 3156). The whole
// inner MIME entity, text and attachment, is encrypted as one blob.
func (m *Mailer) buildEncrypted(msg Message) ([]byte, error) {
	body, contentType, err := buildMIMEBody(msg)
	if err != nil {
		return nil, fmt.Errorf("building MIME body: %w", err)
	}

	var inner bytes.Buffer
	fmt.Fprintf(&inner, "Content-Type: %s\r\n\r\n", contentType)
	inner.Write(body)

	keyring, err := readKeyRing(m.cfg.PGPPublicKeyPath)
	if err != nil {
		return nil, err
	}
	encrypted, err := encrypt(inner.Bytes(), keyring)
	if err != nil {
		return nil, fmt.Errorf("pgp encryption: %w", err)
	}

	var buf bytes.Buffer
	envelope := multipart.NewWriter(&buf)

	versionHeader := textproto.MIMEHeader{}
	versionHeader.Set("Content-Type", "application/pgp-encrypted")
	versionPart, err := envelope.CreatePart(versionHeader)
	if err != nil {
		return nil, err
	}
	versionPart.Write([]byte("Version: 1\r\n"))

	encHeader := textproto.MIMEHeader{}
	encHeader.Set("Content-Type", "application/octet-stream")
	encPart, err := envelope.CreatePart(encHeader)
	if err != nil {
		return nil, err
	}
	encPart.Write(encrypted)

	if err := envelope.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	m.writeHeaders(&out, msg, fmt.Sprintf("multipart/encrypted; protocol=\"application/pgp-encrypted\"; boundary=%s", envelope.Boundary()))
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

func readKeyRing(path string) (openpgp.EntityList, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read PGP public key at %s: %w", path, err)
	}
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("cannot parse PGP public key at %s: %w", path, err)
	}
	return entities, nil
}

func encrypt(plaintext []byte, to openpgp.EntityList) ([]byte, error) {
	var buf bytes.Buffer
	armorWriter, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return nil, fmt.Errorf("creating armor writer: %w", err)
	}

	encWriter, err := openpgp.Encrypt(armorWriter, to, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating encrypt writer: %w", err)
	}
	if _, err := encWriter.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return nil, err
	}
	if err := armorWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
