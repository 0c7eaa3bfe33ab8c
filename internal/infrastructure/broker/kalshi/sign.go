package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// loadPrivateKey reads an RSA private key in PEM form. Keys that passed
// through an .env file often arrive with literal "\n" sequences or with
// all newlines stripped; both forms are restored before parsing.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return parsePrivateKey(string(raw))
}

func parsePrivateKey(keyData string) (*rsa.PrivateKey, error) {
	keyData = strings.ReplaceAll(keyData, `\n`, "\n")
	if !strings.Contains(keyData, "\n") {
		keyData = restorePEMLines(keyData)
	}

	block, _ := pem.Decode([]byte(keyData))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// restorePEMLines rebuilds a single-line PEM string: header and footer on
// their own lines, base64 body wrapped at 64 characters.
func restorePEMLines(s string) string {
	s = strings.TrimSpace(s)
	var header, footer string
	for _, h := range []string{"RSA PRIVATE KEY", "PRIVATE KEY"} {
		b := "-----BEGIN " + h + "-----"
		e := "-----END " + h + "-----"
		if strings.HasPrefix(s, b) && strings.HasSuffix(s, e) {
			header, footer = b, e
			s = strings.TrimSuffix(strings.TrimPrefix(s, b), e)
			break
		}
	}
	if header == "" {
		return s
	}
	body := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteByte('\n')
	for len(body) > 0 {
		n := min(64, len(body))
		sb.WriteString(body[:n])
		sb.WriteByte('\n')
		body = body[n:]
	}
	sb.WriteString(footer)
	sb.WriteByte('\n')
	return sb.String()
}

// signRequest signs timestampMs + METHOD + path + body with RSA-PSS over
// SHA-256, salt length equal to the digest length, and returns the
// base64-encoded signature.
func signRequest(key *rsa.PrivateKey, timestampMs int64, method, path, body string) (string, error) {
	message := fmt.Sprintf("%d%s%s%s", timestampMs, method, path, body)
	digest := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
