// Package webhook ingests forge webhooks over HTTP, verifies their
// signatures, and forwards recognized events to Discord as embeds.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
)

// VerifySignature checks the HMAC-SHA256 signature of a webhook body
// against the shared secret. The signature header carries a hex digest
// with an optional "sha256=" prefix. Error messages never include the
// expected digest.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return stderrors.New("webhook signature: secret is empty")
	}
	if len(body) == 0 {
		return stderrors.New("webhook signature: body is empty")
	}
	if signature == "" {
		return stderrors.New("webhook signature: header is empty")
	}

	hexSignature := strings.TrimPrefix(signature, "sha256=")
	signatureBytes, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("webhook signature: invalid hex: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, signatureBytes) != 1 {
		return stderrors.New("webhook signature: mismatch")
	}
	return nil
}
