package webhook

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBody(createdAt time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"merchant_id": "MERCHANT123",
		"type": "payment.updated",
		"event_id": "evt-abc-123",
		"created_at": %q,
		"data": {"type": "payment", "id": "pay-1", "object": {}}
	}`, createdAt.UTC().Format(time.RFC3339)))
}

func signedHeader(algorithm, secret string, body []byte, environment string) http.Header {
	header := http.Header{}
	signature := ComputeSignature(algorithm, secret, body)
	if algorithm == "sha1" {
		header.Set(HeaderSignatureSHA1, signature)
	} else {
		header.Set(HeaderSignatureSHA256, signature)
	}
	if environment != "" {
		header.Set(HeaderEnvironment, environment)
	}
	return header
}

func TestValidateSandboxEvent(t *testing.T) {
	v := NewValidator(Secrets{Sandbox: "sandbox-secret", Production: "prod-secret"})

	body := testBody(time.Now())
	header := signedHeader("sha256", "sandbox-secret", body, "Sandbox")

	result := v.Validate(header, body)

	assert.True(t, result.Valid)
	assert.Equal(t, "sandbox", result.Environment)
	assert.Equal(t, "sha256", result.Algorithm)
	assert.Equal(t, "sandbox", result.SecretUsed)
	require.NotNil(t, result.Envelope)
	assert.Equal(t, "evt-abc-123", result.Envelope.EventID)
	assert.Equal(t, "payment.updated", result.Envelope.Type)
}

func TestValidateSecretWithTrailingNewline(t *testing.T) {
	// Secrets pasted into env config have shipped with trailing newlines;
	// validation must still pass.
	v := NewValidator(Secrets{Production: "prod-secret\n"})

	body := testBody(time.Now())
	header := signedHeader("sha256", "prod-secret", body, "")

	result := v.Validate(header, body)

	assert.True(t, result.Valid)
	assert.Equal(t, "production", result.Environment)
}

func TestValidateTamperedBody(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := testBody(time.Now())
	header := signedHeader("sha256", "prod-secret", body, "")

	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[len(tampered)/2] ^= 0x01

	result := v.Validate(header, tampered)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrInvalidSignature, result.ErrorKind)
	assert.NotEmpty(t, result.ExpectedSignature)
	assert.NotEmpty(t, result.ReceivedSignature)
}

func TestValidateWrongSecret(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := testBody(time.Now())
	header := signedHeader("sha256", "some-other-secret", body, "")

	result := v.Validate(header, body)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrInvalidSignature, result.ErrorKind)
}

func TestValidateMissingSignature(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := testBody(time.Now())
	result := v.Validate(http.Header{}, body)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrMissingSignature, result.ErrorKind)
}

func TestValidateMissingSecret(t *testing.T) {
	v := NewValidator(Secrets{})

	body := testBody(time.Now())
	header := signedHeader("sha256", "whatever", body, "sandbox")

	result := v.Validate(header, body)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrMissingSecret, result.ErrorKind)
}

func TestValidateSharedSecretFallback(t *testing.T) {
	v := NewValidator(Secrets{Shared: "shared-secret"})

	body := testBody(time.Now())
	header := signedHeader("sha256", "shared-secret", body, "sandbox")

	result := v.Validate(header, body)

	assert.True(t, result.Valid)
	assert.Equal(t, "shared", result.SecretUsed)
}

func TestValidateSHA1Fallback(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := testBody(time.Now())
	header := signedHeader("sha1", "prod-secret", body, "")

	result := v.Validate(header, body)

	assert.True(t, result.Valid)
	assert.Equal(t, "sha1", result.Algorithm)
}

func TestValidateEventTooOld(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := testBody(time.Now().Add(-10 * time.Minute))
	header := signedHeader("sha256", "prod-secret", body, "")

	result := v.Validate(header, body)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrEventTooOld, result.ErrorKind)
}

func TestValidateEventWithinAgeBound(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := testBody(time.Now().Add(-4 * time.Minute))
	header := signedHeader("sha256", "prod-secret", body, "")

	result := v.Validate(header, body)

	assert.True(t, result.Valid)
}

func TestValidateMalformedBody(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := []byte("this is not json")
	header := signedHeader("sha256", "prod-secret", body, "")

	result := v.Validate(header, body)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrMalformedBody, result.ErrorKind)
}

func TestValidateMissingEnvelopeFields(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	body := []byte(`{"merchant_id": "M1", "type": "payment.updated"}`)
	header := signedHeader("sha256", "prod-secret", body, "")

	result := v.Validate(header, body)

	assert.False(t, result.Valid)
	assert.Equal(t, ErrInvalidPayload, result.ErrorKind)
}

func TestQuickValidateSkipsPayloadChecks(t *testing.T) {
	v := NewValidator(Secrets{Production: "prod-secret"})

	// Old event, unparseable body: quick validation only cares about the
	// signature.
	body := []byte("not an envelope at all")
	header := signedHeader("sha256", "prod-secret", body, "")

	result := v.QuickValidate(header, body)

	assert.True(t, result.Valid)
	assert.Nil(t, result.Envelope)
}

func TestEnvironmentFromHeader(t *testing.T) {
	assert.Equal(t, "sandbox", EnvironmentFromHeader("sandbox"))
	assert.Equal(t, "sandbox", EnvironmentFromHeader("Sandbox"))
	assert.Equal(t, "sandbox", EnvironmentFromHeader("  SANDBOX  "))
	assert.Equal(t, "production", EnvironmentFromHeader("production"))
	assert.Equal(t, "production", EnvironmentFromHeader(""))
	assert.Equal(t, "production", EnvironmentFromHeader("anything-else"))
}

func TestSanitizeSecret(t *testing.T) {
	assert.Equal(t, "secret", SanitizeSecret("secret\n"))
	assert.Equal(t, "secret", SanitizeSecret("  secret \t\n"))
	assert.Equal(t, "secret", SanitizeSecret("secret"))
}

func TestCheckRequest(t *testing.T) {
	header := http.Header{}
	header.Set(HeaderSignatureSHA256, "sig")

	assert.NoError(t, CheckRequest(header, 100, DefaultMaxBodyBytes))
	assert.Error(t, CheckRequest(header, DefaultMaxBodyBytes+1, DefaultMaxBodyBytes))
	assert.Error(t, CheckRequest(http.Header{}, 100, DefaultMaxBodyBytes))

	sha1Only := http.Header{}
	sha1Only.Set(HeaderSignatureSHA1, "sig")
	assert.NoError(t, CheckRequest(sha1Only, 100, DefaultMaxBodyBytes))
}
