// ABOUTME: Credential redaction for database URLs written to logs and listings
// ABOUTME: Masks userinfo passwords and token-like query parameters

package observability

import (
	"net/url"
	"regexp"
	"strings"
)

// RedactionPlaceholder is the replacement text for redacted values.
const RedactionPlaceholder = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)=[^\s&]+`),
	regexp.MustCompile(`(?i)(token|auth_token|access_token)=[^\s&]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)=[^\s&]+`),
	regexp.MustCompile(`(?i)(secret|client_secret)=[^\s&]+`),
}

var sensitiveKeys = []string{
	"password", "passwd", "pwd", "token", "secret", "apikey", "api_key", "api-key", "auth",
}

// RedactSensitive masks key=value secrets inside free text.
func RedactSensitive(value string) string {
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, "${1}="+RedactionPlaceholder)
	}
	return value
}

// RedactURL masks the password in userinfo and sensitive query parameters.
// Values that are not URLs go through RedactSensitive.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return RedactSensitive(raw)
	}

	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), RedactionPlaceholder)
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if IsSensitiveKey(k) {
				q.Set(k, RedactionPlaceholder)
			}
		}
		u.RawQuery = q.Encode()
	}

	// Keep the placeholder readable rather than percent-encoded.
	return strings.ReplaceAll(u.String(), url.QueryEscape(RedactionPlaceholder), RedactionPlaceholder)
}

// IsSensitiveKey returns true if the key name suggests sensitive data.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
