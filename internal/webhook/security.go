package webhook

import (
	"fmt"
	"net/http"
)

// DefaultMaxBodyBytes is the request-size ceiling applied before full
// validation runs.
const DefaultMaxBodyBytes = 1 << 20 // 1MB

// CheckRequest is a lightweight security gate run before signature
// validation: it rejects oversized bodies and requests with no signature
// header at all. Cheap checks only; the signature is the real boundary.
func CheckRequest(header http.Header, bodySize int64, maxBodyBytes int64) error {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if bodySize > maxBodyBytes {
		return fmt.Errorf("request body too large: %d bytes (max %d)", bodySize, maxBodyBytes)
	}
	if header.Get(HeaderSignatureSHA256) == "" && header.Get(HeaderSignatureSHA1) == "" {
		return fmt.Errorf("no signature header present")
	}
	return nil
}
