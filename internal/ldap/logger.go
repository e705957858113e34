package ldap

import (
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// base is the package-level logger used by the client/pool. usermgrd wires
// its process-wide zap logger in here at startup via SetLogger; tests and
// callers that never do so get a safe no-op.
var base = zap.NewNop()

// SetLogger installs the logger used for all ldap package diagnostics.
func SetLogger(l *zap.Logger) {
	if l != nil {
		base = l.Named("ldap")
	}
}

func fieldsToZap(fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range SanitizeFields(fields) {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func logDebug(subsystem, msg string, fields map[string]any) {
	base.Debug(msg, append([]zap.Field{zap.String("subsystem", subsystem)}, fieldsToZap(fields)...)...)
}

func logInfo(subsystem, msg string, fields map[string]any) {
	base.Info(msg, append([]zap.Field{zap.String("subsystem", subsystem)}, fieldsToZap(fields)...)...)
}

func logWarn(subsystem, msg string, fields map[string]any) {
	base.Warn(msg, append([]zap.Field{zap.String("subsystem", subsystem)}, fieldsToZap(fields)...)...)
}

func logError(subsystem, msg string, fields map[string]any) {
	base.Error(msg, append([]zap.Field{zap.String("subsystem", subsystem)}, fieldsToZap(fields)...)...)
}

// zap has no Trace level; Trace collapses to Debug.
func logTrace(subsystem, msg string, fields map[string]any) {
	logDebug(subsystem, msg, fields)
}

// LogOperation logs an operation with timing around fn.
func LogOperation(subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	logDebug(subsystem, "starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		logError(subsystem, "operation failed", fields)
	} else {
		logDebug(subsystem, "operation completed", fields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(subsystem, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation
	fields["error"] = err.Error()

	if ldapErr, ok := err.(*ldap.Error); ok {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	logError(subsystem, "ldap operation failed", fields)
}

// SanitizeFields removes sensitive information from log fields before they
// reach the logger, so a bound password or delete-token never lands in a
// log line.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"key":         true,
		"private_key": true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	patterns := []string{"password=", "passwd=", "secret=", "token=", "key="}
	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
