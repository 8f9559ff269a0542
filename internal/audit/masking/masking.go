package masking

import "strings"

const maskToken = "****"

// CodeKeys are metadata keys holding redeemable coupon codes.
var CodeKeys = []string{"code", "coupon_code"}

// MaskCode redacts a code while keeping a short suffix for support lookups.
func MaskCode(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskKeys returns a copy of input with the string values under keys masked,
// descending into nested maps.
func MaskKeys(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			masked[trimmedKey] = MaskKeys(nested, keys...)
			continue
		}
		if s, ok := value.(string); ok {
			if _, hit := set[trimmedKey]; hit {
				masked[trimmedKey] = MaskCode(s)
				continue
			}
		}
		masked[trimmedKey] = value
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func splitPrefix(value string) (string, string) {
	idx := strings.LastIndexAny(value, "_-")
	if idx == -1 || idx == len(value)-1 {
		return "", value
	}
	return value[:idx+1], value[idx+1:]
}
