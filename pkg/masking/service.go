package masking

import (
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// Service applies secret masking to outbound text. Created once at
// startup; thread-safe. Patterns are compiled eagerly, invalid ones
// are logged and skipped.
type Service struct {
	patterns []*CompiledPattern

	mu      sync.RWMutex
	secrets []string // known credential values, longest first
}

// NewService creates a masking service with the built-in patterns
// compiled and the given known secret values registered.
func NewService(knownSecrets []string) *Service {
	s := &Service{}
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
		})
	}
	s.RegisterSecrets(knownSecrets)

	slog.Info("Masking service initialized",
		"compiled_patterns", len(s.patterns),
		"known_secrets", len(knownSecrets))
	return s
}

// RegisterSecrets adds literal credential values to mask. Values are
// matched verbatim before the regex sweep; longer values first so a
// secret that contains another is fully replaced.
func (s *Service) RegisterSecrets(values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		if len(v) >= 4 { // too-short values would shred unrelated text
			s.secrets = append(s.secrets, v)
		}
	}
	sort.Slice(s.secrets, func(i, j int) bool {
		return len(s.secrets[i]) > len(s.secrets[j])
	})
}

// Mask redacts known secret values and credential-shaped substrings.
// Nil-safe: a nil service returns the message unchanged.
func (s *Service) Mask(message string) string {
	if s == nil || message == "" {
		return message
	}

	s.mu.RLock()
	secrets := s.secrets
	s.mu.RUnlock()

	masked := maskLiterals(message, secrets)
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// MaskPayload redacts a payload map in place semantics-free: values of
// credential-named keys are replaced wholesale, string values are
// swept with Mask, nested maps recurse.
func (s *Service) MaskPayload(payload map[string]any) map[string]any {
	if s == nil || payload == nil {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if IsCredentialKey(k) {
			out[k] = MaskToken
			continue
		}
		switch tv := v.(type) {
		case string:
			out[k] = s.Mask(tv)
		case map[string]any:
			out[k] = s.MaskPayload(tv)
		default:
			out[k] = v
		}
	}
	return out
}
