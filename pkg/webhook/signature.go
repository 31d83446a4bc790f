package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body keyed by the app secret.
const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrVerifyFailed     = errors.New("webhook verification failed")
)

// VerifySignature checks a "sha256=<hex>" header against body. An empty
// secret disables the check.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}

	if header == "" {
		return ErrMissingSignature
	}

	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(given, Sign(secret, body)) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)

	return mac.Sum(nil)
}

// VerifyChallenge answers the subscription handshake: it returns the
// challenge when mode is "subscribe" and the token matches.
func VerifyChallenge(mode, token, challenge, expectedToken string) (string, error) {
	if expectedToken == "" || mode != "subscribe" {
		return "", ErrVerifyFailed
	}

	if !hmac.Equal([]byte(token), []byte(expectedToken)) {
		return "", ErrVerifyFailed
	}

	return challenge, nil
}
