// Package secrets validates security-sensitive configuration at startup
// and redacts secret material from log output.
package secrets

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// MinSecretLength is the minimum acceptable length for JWT_SECRET and
// API_SECRET. Config loading rejects anything shorter.
const MinSecretLength = 32

// ErrTooShort reports that a configured secret does not meet
// MinSecretLength.
type ErrTooShort struct {
	Field string
}

func (e ErrTooShort) Error() string {
	return fmt.Sprintf("%s must be at least %d characters", e.Field, MinSecretLength)
}

// ValidateSecret returns ErrTooShort if value is shorter than
// MinSecretLength.
func ValidateSecret(field, value string) error {
	if len(value) < MinSecretLength {
		return ErrTooShort{Field: field}
	}
	return nil
}

var (
	bearerPattern   = regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9._-]+`)
	sha256SigPattern = regexp.MustCompile(`(?i)(sha256=)[0-9a-f]+`)
	userinfoPattern = regexp.MustCompile(`://[^/@\s]+:[^/@\s]+@`)
	keyNamePattern  = regexp.MustCompile(`(?i)("?(?:secret|password|apiKey|api_key)"?\s*[:=]\s*"?)([^",}\s]+)`)
)

// Redact scrubs known secret shapes from a string bound for a log sink:
// URL userinfo, "Bearer <token>" and "sha256=<hex>" values, and
// key=value / "key": "value" pairs whose key looks like a credential.
func Redact(s string) string {
	s = userinfoPattern.ReplaceAllString(s, "://[REDACTED]@")
	s = bearerPattern.ReplaceAllString(s, "${1}[REDACTED]")
	s = sha256SigPattern.ReplaceAllString(s, "${1}[REDACTED]")
	s = keyNamePattern.ReplaceAllString(s, "${1}[REDACTED]")
	return s
}

// core wraps a zapcore.Core, redacting the message and every string field
// before it reaches the wrapped core.
type core struct {
	zapcore.Core
}

// WrapCore returns a zapcore.Core that redacts secret material, for use
// with zap.WrapCore.
func WrapCore(c zapcore.Core) zapcore.Core {
	return &core{Core: c}
}

func (c *core) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = Redact(entry.Message)
	redacted := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType && strings.ContainsAny(f.String, ":=@") {
			f.String = Redact(f.String)
		}
		redacted[i] = f
	}
	return c.Core.Write(entry, redacted)
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	return &core{Core: c.Core.With(fields)}
}

func (c *core) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}
