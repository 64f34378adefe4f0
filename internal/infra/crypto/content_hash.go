package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"attestd/internal/domain"
)

// ComputeContentHash canonicalizes content and returns the lowercase hex
// SHA-256 of the canonical bytes. Deterministic regardless of map key
// insertion order.
func ComputeContentHash(content any) (string, error) {
	canonical, err := CanonicalizeAny(content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrHash, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyContentHash recomputes and compares, case-insensitive on the hex.
func VerifyContentHash(content any, expected string) bool {
	actual, err := ComputeContentHash(content)
	if err != nil {
		return false
	}
	return strings.EqualFold(actual, expected)
}

func SHA256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// ContentPreview renders a best-effort human summary of content for display
// before signing. Never part of a trust comparison.
func ContentPreview(content any, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 200
	}
	var summary string
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		summary = v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+previewValue(v[k]))
		}
		summary = strings.Join(parts, " ")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			summary = fmt.Sprintf("%v", v)
		} else {
			summary = string(b)
		}
	}
	return truncate(summary, maxLen)
}

func previewValue(v any) string {
	switch value := v.(type) {
	case string:
		return truncate(value, 60)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return truncate(string(b), 60)
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
