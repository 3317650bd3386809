// Package privacy scrubs credentials out of text before it is logged or stored.
package privacy

import (
	"regexp"
	"strings"
)

// Placeholder replaces redacted content.
const Placeholder = "[REDACTED]"

var (
	// keyParamRegex matches key=... query parameters (Gemini passes the API key this way)
	keyParamRegex = regexp.MustCompile(`([?&](?:key|api_key|apiKey)=)[^&\s"']+`)

	// bearerRegex matches Authorization bearer tokens
	bearerRegex = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`)

	// googleKeyRegex matches Google API keys that leak outside of query strings
	googleKeyRegex = regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)
)

// StripKeyParams replaces key=... query parameter values.
func StripKeyParams(text string) string {
	return keyParamRegex.ReplaceAllString(text, "${1}"+Placeholder)
}

// StripBearerTokens replaces bearer token values.
func StripBearerTokens(text string) string {
	return bearerRegex.ReplaceAllString(text, "${1}"+Placeholder)
}

// StripSecrets replaces every occurrence of the given literal secrets.
// Blank secrets and secrets shorter than 4 characters are ignored.
func StripSecrets(text string, secrets ...string) string {
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if len(s) < 4 {
			continue
		}
		text = strings.ReplaceAll(text, s, Placeholder)
	}
	return text
}

// Redact performs full credential scrubbing on text.
// This is the function to use before logging any error that may carry a request URL.
func Redact(text string, secrets ...string) string {
	text = StripSecrets(text, secrets...)
	text = StripKeyParams(text)
	text = StripBearerTokens(text)
	text = googleKeyRegex.ReplaceAllString(text, Placeholder)
	return strings.TrimSpace(text)
}

// RedactError is Redact for errors; nil yields "".
func RedactError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error(), secrets...)
}
