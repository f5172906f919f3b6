// Package signing produces webhook signatures over "{msgId}.{timestamp}.{body}".
package signing

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/hookline/internal/domain"
)

const (
	HMACKeyPrefix    = "whsec_"
	Ed25519KeyPrefix = "whsk_"

	hmacKeySize = 24

	versionHMAC    = "v1"
	versionEd25519 = "v1a"
)

// KeyType is the signing algorithm of an endpoint key.
type KeyType int

const (
	KeyTypeHMAC256 KeyType = iota
	KeyTypeEd25519
)

// Key is a parsed endpoint signing key.
type Key struct {
	Type KeyType
	raw  []byte
}

func NewHMACKey(secret []byte) Key {
	return Key{Type: KeyTypeHMAC256, raw: append([]byte(nil), secret...)}
}

// NewEd25519Key accepts a 64 byte private key (seed followed by public key).
func NewEd25519Key(private []byte) (Key, error) {
	if len(private) != ed25519.PrivateKeySize {
		return Key{}, fmt.Errorf("%w: ed25519 key must be %d bytes", domain.ErrValidation, ed25519.PrivateKeySize)
	}
	return Key{Type: KeyTypeEd25519, raw: append([]byte(nil), private...)}, nil
}

// ParseKey decodes the text form stored on an endpoint.
func ParseKey(text string) (Key, error) {
	switch {
	case strings.HasPrefix(text, HMACKeyPrefix):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, HMACKeyPrefix))
		if err != nil || len(raw) == 0 {
			return Key{}, fmt.Errorf("%w: malformed hmac signing key", domain.ErrValidation)
		}
		return NewHMACKey(raw), nil
	case strings.HasPrefix(text, Ed25519KeyPrefix):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, Ed25519KeyPrefix))
		if err != nil {
			return Key{}, fmt.Errorf("%w: malformed ed25519 signing key", domain.ErrValidation)
		}
		return NewEd25519Key(raw)
	}
	return Key{}, fmt.Errorf("%w: unknown signing key prefix", domain.ErrValidation)
}

func (k Key) String() string {
	switch k.Type {
	case KeyTypeEd25519:
		return Ed25519KeyPrefix + base64.StdEncoding.EncodeToString(k.raw)
	default:
		return HMACKeyPrefix + base64.StdEncoding.EncodeToString(k.raw)
	}
}

// PublicKey returns the verification key of an ed25519 key and nil otherwise.
func (k Key) PublicKey() ed25519.PublicKey {
	if k.Type != KeyTypeEd25519 {
		return nil
	}
	return ed25519.PrivateKey(k.raw).Public().(ed25519.PublicKey)
}

func GenerateHMACKey() (Key, error) {
	secret := make([]byte, hmacKeySize)
	if _, err := rand.Read(secret); err != nil {
		return Key{}, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewHMACKey(secret), nil
}

func GenerateEd25519Key() (Key, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewEd25519Key(private)
}

func (k Key) sign(content []byte) string {
	switch k.Type {
	case KeyTypeEd25519:
		sig := ed25519.Sign(ed25519.PrivateKey(k.raw), content)
		return versionEd25519 + "," + base64.StdEncoding.EncodeToString(sig)
	default:
		mac := hmac.New(sha256.New, k.raw)
		mac.Write(content)
		return versionHMAC + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}
}

func signedContent(msgID string, timestamp int64, body []byte) []byte {
	content := make([]byte, 0, len(msgID)+len(body)+24)
	content = append(content, msgID...)
	content = append(content, '.')
	content = strconv.AppendInt(content, timestamp, 10)
	content = append(content, '.')
	content = append(content, body...)
	return content
}

// Sign returns one signature token per key, space separated, in key order.
func Sign(keys []Key, msgID string, timestamp int64, body []byte) string {
	content := signedContent(msgID, timestamp, body)
	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, k.sign(content))
	}
	return strings.Join(tokens, " ")
}

// SignText parses the stored key texts and signs with all of them.
func SignText(keyTexts []string, msgID string, timestamp int64, body []byte) (string, error) {
	keys := make([]Key, 0, len(keyTexts))
	for _, text := range keyTexts {
		k, err := ParseKey(text)
		if err != nil {
			return "", err
		}
		keys = append(keys, k)
	}
	return Sign(keys, msgID, timestamp, body), nil
}

// Verify reports whether any token in header was produced by key.
func Verify(key Key, msgID string, timestamp int64, body []byte, header string) bool {
	content := signedContent(msgID, timestamp, body)
	for _, token := range strings.Fields(header) {
		version, encoded, ok := strings.Cut(token, ",")
		if !ok {
			continue
		}
		sig, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}

		switch {
		case version == versionHMAC && key.Type == KeyTypeHMAC256:
			mac := hmac.New(sha256.New, key.raw)
			mac.Write(content)
			if hmac.Equal(sig, mac.Sum(nil)) {
				return true
			}
		case version == versionEd25519 && key.Type == KeyTypeEd25519:
			if ed25519.Verify(key.PublicKey(), content, sig) {
				return true
			}
		}
	}
	return false
}
