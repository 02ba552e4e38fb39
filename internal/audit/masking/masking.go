package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a secret while keeping its environment prefix and a
// short suffix, e.g. TEST-****c0de.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 8 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

var sensitiveKeyParts = []string{"token", "secret", "password", "authorization"}

// MaskSensitiveKeys returns a copy of input where string values under
// credential-looking keys are masked. Other values are kept as they are.
func MaskSensitiveKeys(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		switch cast := value.(type) {
		case string:
			if isSensitiveKey(trimmedKey) {
				out[trimmedKey] = MaskSecret(cast)
				continue
			}
			out[trimmedKey] = cast
		case map[string]any:
			out[trimmedKey] = MaskSensitiveKeys(cast)
		default:
			out[trimmedKey] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

// splitPrefix keeps the leading environment marker of processor tokens
// (TEST-, APP_USR-) so masked values still show which mode they belong to.
func splitPrefix(value string) (string, string) {
	idx := strings.Index(value, "-")
	if idx <= 0 || idx == len(value)-1 {
		return "", value
	}
	return value[:idx+1], value[idx+1:]
}
