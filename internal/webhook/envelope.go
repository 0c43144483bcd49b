package webhook

import (
	"encoding/json"

	"square-sync-service/internal/models"
)

// parseEnvelope decodes the event envelope and checks required fields.
// Returns a tagged failure kind on error: MALFORMED_BODY when the body is
// not valid JSON, INVALID_PAYLOAD when required envelope fields are absent.
func parseEnvelope(rawBody []byte) (*models.WebhookEnvelope, ErrorKind, string) {
	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, ErrMalformedBody, "body is not a valid event envelope: " + err.Error()
	}

	switch {
	case envelope.EventID == "":
		return nil, ErrInvalidPayload, "missing event_id"
	case envelope.Type == "":
		return nil, ErrInvalidPayload, "missing type"
	case envelope.CreatedAt.IsZero():
		return nil, ErrInvalidPayload, "missing created_at"
	case envelope.MerchantID == "":
		return nil, ErrInvalidPayload, "missing merchant_id"
	}

	return &envelope, "", ""
}
