// Package masking redacts credential material from surfaced error
// messages and audit payloads.
package masking

import (
	"regexp"
	"strings"
)

// MaskToken is the fixed replacement for any detected secret.
const MaskToken = "***MASKED***"

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns catch common credential shapes regardless of where
// they leak from (connection strings, headers, env echoes).
var builtinPatterns = []struct {
	name, pattern, replacement string
}{
	{"bearer_token", `(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`, "${1}" + MaskToken},
	{"basic_auth_url", `(://[^:/\s]+:)[^@/\s]+(@)`, "${1}" + MaskToken + "${2}"},
	{"key_value_secret", `(?i)((?:password|passwd|secret|token|api[_-]?key|access[_-]?key)["']?\s*[:=]\s*["']?)[^\s"',;&]+`, "${1}" + MaskToken},
	{"aws_access_key", `\bAKIA[0-9A-Z]{16}\b`, MaskToken},
	{"slack_token", `\bxox[baprs]-[0-9A-Za-z\-]{10,}\b`, MaskToken},
}

// credentialKeyPattern matches configuration keys whose values must be
// treated as secrets.
var credentialKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|access[_-]?key|credential)`)

// IsCredentialKey reports whether a configuration key names a secret.
func IsCredentialKey(key string) bool {
	return credentialKeyPattern.MatchString(key)
}

// maskLiterals replaces every registered secret value verbatim.
func maskLiterals(message string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		message = strings.ReplaceAll(message, secret, MaskToken)
	}
	return message
}
