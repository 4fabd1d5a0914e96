package dispatch

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

// credentialPattern matches API-key and bearer-token shapes that must never
// reach a caller-visible message.
var credentialPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9_-]{8,}|(?:bearer\s+)[A-Za-z0-9._~+/-]{8,}=*)`)

// RedactSecrets removes configured credential values and anything shaped
// like a credential from a message before it is surfaced in a Response.
func RedactSecrets(msg string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, secret, redactedPlaceholder)
	}
	return credentialPattern.ReplaceAllString(msg, redactedPlaceholder)
}
