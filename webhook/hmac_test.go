package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"hello":"world"}`)

	require.NoError(t, VerifySignature(secret, body, sign("s3cret", body)))

	// The sha256= prefix is optional.
	bare := sign("s3cret", body)[len("sha256="):]
	require.NoError(t, VerifySignature(secret, body, bare))
}

func TestVerifySignature_Rejects(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"hello":"world"}`)
	good := sign("s3cret", body)

	assert.Error(t, VerifySignature(secret, []byte(`{"hello":"tampered"}`), good))
	assert.Error(t, VerifySignature([]byte("wrong"), body, good))
	assert.Error(t, VerifySignature(secret, body, "sha256=not-hex"))
	assert.Error(t, VerifySignature(secret, body, ""))
	assert.Error(t, VerifySignature(nil, body, good))
	assert.Error(t, VerifySignature(secret, nil, good))
}
