package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

var sensitiveParams = map[string]bool{
	"token":     true,
	"key":       true,
	"apikey":    true,
	"api_key":   true,
	"auth":      true,
	"password":  true,
	"sig":       true,
	"signature": true,
	"secret":    true,
}

// Redact returns u safe for log lines: userinfo and secret-looking query
// values are masked. Other query values (e.g. youtube v=) stay readable so
// operators can tell channels apart.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "invalid-url"
	}
	if parsed.User != nil {
		parsed.User = url.User("redacted")
	}
	q := parsed.Query()
	changed := false
	for k := range q {
		if sensitiveParams[strings.ToLower(k)] {
			q.Set(k, "redacted")
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}
