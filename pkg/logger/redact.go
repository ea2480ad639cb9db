package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "***"

// secretKeys are dropped entirely; emailKeys are masked to keep the domain.
var (
	secretKeys = []string{"token", "secret", "privatekey", "authorization", "password", "apikey"}
	emailKeys  = []string{"email"}
)

// SanitizeFields redacts secrets and masks email addresses, descending into
// map and slice values.
func SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		switch classify(field.Key) {
		case keySecret:
			out = append(out, zap.String(field.Key, redacted))
			continue
		case keyEmail:
			if field.Type == zapcore.StringType {
				out = append(out, zap.String(field.Key, MaskEmail(field.String)))
				continue
			}
		}

		enc := zapcore.NewMapObjectEncoder()
		field.AddTo(enc)
		value, ok := enc.Fields[field.Key]
		if !ok {
			out = append(out, field)
			continue
		}
		out = append(out, zap.Any(field.Key, scrub(field.Key, value)))
	}
	return out
}

// MaskEmail keeps the first rune of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return redacted
	}
	return email[:1] + redacted + email[at:]
}

type keyClass int

const (
	keyPlain keyClass = iota
	keySecret
	keyEmail
)

func classify(key string) keyClass {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	if normalized == "" {
		return keyPlain
	}
	for _, token := range secretKeys {
		if strings.Contains(normalized, token) {
			return keySecret
		}
	}
	for _, token := range emailKeys {
		if strings.Contains(normalized, token) {
			return keyEmail
		}
	}
	return keyPlain
}

func scrub(key string, value interface{}) interface{} {
	switch classify(key) {
	case keySecret:
		return redacted
	case keyEmail:
		if s, ok := value.(string); ok {
			return MaskEmail(s)
		}
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = scrub(k, v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, scrub(key, item))
		}
		return out
	default:
		return typed
	}
}
