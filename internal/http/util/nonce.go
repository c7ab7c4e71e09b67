package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidNonce  = errors.New("invalid or expired nonce")
	ErrMissingSecret = errors.New("nonce secret is not configured")
)

const (
	nonceRandomBytes = 8
	nonceSigBytes    = 16
)

// NonceSigner issues short-lived HMAC tokens bound to an admin action name.
type NonceSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewNonceSigner(secret []byte, ttl time.Duration) *NonceSigner {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &NonceSigner{secret: secret, ttl: ttl, now: time.Now}
}

// RandomSecret returns n bytes from crypto/rand for signers without a configured secret.
func RandomSecret(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nonce secret: %w", err)
	}
	return buf, nil
}

func (s *NonceSigner) TTL() time.Duration { return s.ttl }

// Issue mints a nonce for action. The payload is a 4-byte expiry followed by random bytes.
func (s *NonceSigner) Issue(action string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	payload := make([]byte, 4+nonceRandomBytes)
	binary.BigEndian.PutUint32(payload[:4], uint32(s.now().Add(s.ttl).Unix()))
	if _, err := rand.Read(payload[4:]); err != nil {
		return "", err
	}

	sig := s.sign(action, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sig[:nonceSigBytes]), nil
}

// Validate checks that nonce was issued for action and has not expired.
func (s *NonceSigner) Validate(action, nonce string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(nonce, ".")
	if !ok {
		return ErrInvalidNonce
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != 4+nonceRandomBytes {
		return ErrInvalidNonce
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sig) != nonceSigBytes {
		return ErrInvalidNonce
	}

	expected := s.sign(action, payload)
	if !hmac.Equal(sig, expected[:nonceSigBytes]) {
		return ErrInvalidNonce
	}

	if s.now().Unix() > int64(binary.BigEndian.Uint32(payload[:4])) {
		return ErrInvalidNonce
	}
	return nil
}

func (s *NonceSigner) sign(action string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(action))
	mac.Write([]byte{0})
	mac.Write(payload)
	return mac.Sum(nil)
}
