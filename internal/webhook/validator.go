package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"net/http"
	"strings"
	"time"

	"square-sync-service/internal/models"
	"square-sync-service/internal/util"

	"go.uber.org/zap"
)

// Signature and environment headers sent by Square.
const (
	HeaderSignatureSHA256 = "x-square-hmacsha256-signature"
	HeaderSignatureSHA1   = "x-square-hmacsha1-signature"
	HeaderEnvironment     = "square-environment"
)

// MaxEventAge is the staleness bound for full validation. Distinct from the
// stale-sync threshold used by the sync services.
const MaxEventAge = 5 * time.Minute

// ErrorKind tags expected validation failures.
type ErrorKind string

const (
	ErrMissingSignature ErrorKind = "MISSING_SIGNATURE"
	ErrInvalidSignature ErrorKind = "INVALID_SIGNATURE"
	ErrMissingSecret    ErrorKind = "MISSING_SECRET"
	ErrEventTooOld      ErrorKind = "EVENT_TOO_OLD"
	ErrMalformedBody    ErrorKind = "MALFORMED_BODY"
	ErrInvalidPayload   ErrorKind = "INVALID_PAYLOAD"
)

// ValidationResult is the structured outcome of signature validation.
// Expected failures are tagged results, never errors.
type ValidationResult struct {
	Valid             bool                    `json:"valid"`
	ErrorKind         ErrorKind               `json:"error_kind,omitempty"`
	ErrorDetail       string                  `json:"error_detail,omitempty"`
	ExpectedSignature string                  `json:"expected_signature,omitempty"`
	ReceivedSignature string                  `json:"received_signature,omitempty"`
	Environment       string                  `json:"environment"`
	Algorithm         string                  `json:"algorithm,omitempty"`
	SecretUsed        string                  `json:"secret_used,omitempty"`
	ProcessingTimeMs  int64                   `json:"processing_time_ms"`
	Envelope          *models.WebhookEnvelope `json:"-"`
}

// Secrets holds the webhook secrets per environment plus the shared fallback.
type Secrets struct {
	Sandbox    string
	Production string
	Shared     string
}

// Validator authenticates inbound Square webhook requests.
type Validator struct {
	secrets     Secrets
	maxEventAge time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewValidator creates a webhook validator
func NewValidator(secrets Secrets) *Validator {
	return &Validator{
		secrets:     secrets,
		maxEventAge: MaxEventAge,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// Validate runs full validation: environment, secret selection, signature,
// envelope parsing and event-age check.
func (v *Validator) Validate(header http.Header, rawBody []byte) (result *ValidationResult) {
	start := v.now()
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Webhook validation panicked", zap.Any("panic", r))
			result = &ValidationResult{
				Valid:       false,
				ErrorKind:   ErrInvalidSignature,
				ErrorDetail: fmt.Sprintf("unexpected validation failure: %v", r),
			}
		}
		v.finish(result, start)
	}()

	result = v.verifySignature(header, rawBody)
	if !result.Valid {
		return result
	}

	envelope, kind, detail := parseEnvelope(rawBody)
	if kind != "" {
		result.Valid = false
		result.ErrorKind = kind
		result.ErrorDetail = detail
		return result
	}

	if age := v.now().Sub(envelope.CreatedAt); age > v.maxEventAge {
		result.Valid = false
		result.ErrorKind = ErrEventTooOld
		result.ErrorDetail = fmt.Sprintf("event created %s ago, max age %s", age.Round(time.Second), v.maxEventAge)
		return result
	}

	result.Envelope = envelope
	return result
}

// QuickValidate runs only the signature subset, for fast webhook
// acknowledgment. No payload parsing, no age check; signature forgery is the
// only attack that must block at the edge.
func (v *Validator) QuickValidate(header http.Header, rawBody []byte) (result *ValidationResult) {
	start := v.now()
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Webhook validation panicked", zap.Any("panic", r))
			result = &ValidationResult{
				Valid:       false,
				ErrorKind:   ErrInvalidSignature,
				ErrorDetail: fmt.Sprintf("unexpected validation failure: %v", r),
			}
		}
		v.finish(result, start)
	}()

	return v.verifySignature(header, rawBody)
}

// verifySignature covers environment detection, secret selection and HMAC
// comparison, shared by full and quick validation.
func (v *Validator) verifySignature(header http.Header, rawBody []byte) *ValidationResult {
	environment := EnvironmentFromHeader(header.Get(HeaderEnvironment))
	result := &ValidationResult{Environment: environment}

	secret, source := v.secretFor(environment)
	if secret == "" {
		result.ErrorKind = ErrMissingSecret
		result.ErrorDetail = fmt.Sprintf("no webhook secret configured for environment %q", environment)
		return result
	}

	received := header.Get(HeaderSignatureSHA256)
	algorithm := "sha256"
	if received == "" {
		received = header.Get(HeaderSignatureSHA1)
		algorithm = "sha1"
	}
	if received == "" {
		result.ErrorKind = ErrMissingSignature
		result.ErrorDetail = "no signature header present"
		return result
	}

	expected := ComputeSignature(algorithm, secret, rawBody)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		result.ErrorKind = ErrInvalidSignature
		result.ErrorDetail = "signature mismatch"
		result.ExpectedSignature = expected
		result.ReceivedSignature = received
		return result
	}

	result.Valid = true
	result.Algorithm = algorithm
	result.SecretUsed = source
	return result
}

// secretFor selects the environment-specific secret, falling back to the
// shared secret. The returned secret is sanitized: secrets pasted into env
// config have shipped with trailing newlines before.
func (v *Validator) secretFor(environment string) (secret, source string) {
	switch environment {
	case models.EnvironmentSandbox:
		if v.secrets.Sandbox != "" {
			return SanitizeSecret(v.secrets.Sandbox), "sandbox"
		}
	default:
		if v.secrets.Production != "" {
			return SanitizeSecret(v.secrets.Production), "production"
		}
	}
	if v.secrets.Shared != "" {
		return SanitizeSecret(v.secrets.Shared), "shared"
	}
	return "", ""
}

func (v *Validator) finish(result *ValidationResult, start time.Time) {
	if result == nil {
		return
	}
	elapsed := v.now().Sub(start)
	result.ProcessingTimeMs = elapsed.Milliseconds()

	util.WebhookValidationDuration.Observe(elapsed.Seconds())
	if result.Valid {
		util.WebhookValidationsTotal.WithLabelValues(result.Environment, "valid").Inc()
	} else {
		util.WebhookValidationsTotal.WithLabelValues(result.Environment, "invalid").Inc()
		util.WebhookValidationFailures.WithLabelValues(string(result.ErrorKind)).Inc()
	}
}

// EnvironmentFromHeader maps the square-environment header to an environment
// name, defaulting to production.
func EnvironmentFromHeader(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), "sandbox") {
		return models.EnvironmentSandbox
	}
	return models.EnvironmentProduction
}

// SanitizeSecret strips all leading and trailing whitespace, including
// embedded newlines and tabs. Mandatory: a secret with a trailing newline
// must still validate.
func SanitizeSecret(secret string) string {
	return strings.TrimSpace(secret)
}

// ComputeSignature returns the base64-encoded HMAC of the raw body under the
// given algorithm (sha256 or sha1).
func ComputeSignature(algorithm, secret string, rawBody []byte) string {
	var mac hash.Hash
	if algorithm == "sha1" {
		mac = hmac.New(sha1.New, []byte(secret))
	} else {
		mac = hmac.New(sha256.New, []byte(secret))
	}
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
