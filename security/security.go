package security

import (
	"mime"
	"net/http"
)

// credentialHeaders never appear in logs
var credentialHeaders = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-CSRF-Token",
}

// IsJSONContentType reports whether a request body is declared as JSON
func IsJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// RedactHeaders returns a copy of headers without credentials, safe to log.
// Callers may name extra headers that carry secrets.
func RedactHeaders(headers http.Header, extra ...string) http.Header {
	out := headers.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, header := range credentialHeaders {
		out.Del(header)
	}
	for _, header := range extra {
		out.Del(header)
	}
	return out
}
