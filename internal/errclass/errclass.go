// Package errclass converts opaque provider failure payloads into a
// stable, actionable error taxonomy. The taxonomy is the contract the
// rest of the system renders and acts on: each kind carries whether the
// same payload may be retried and whether the failure means the caller's
// session (rather than the message) is invalid.
package errclass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is a closed enumeration of failure classes.
type Kind string

const (
	SessionExpired     Kind = "session_expired"
	JWTInvalid         Kind = "jwt_invalid"
	AuthUnauthorized   Kind = "auth_unauthorized"
	AuthForbidden      Kind = "auth_forbidden"
	RateLimit          Kind = "rate_limit"
	PhoneInvalid       Kind = "phone_invalid"
	PhoneBlocked       Kind = "phone_blocked"
	NetworkError       Kind = "network_error"
	ServerError        Kind = "server_error"
	ServiceUnavailable Kind = "service_unavailable"
	WindowExpired      Kind = "window_expired"
	ConfigError        Kind = "config_error"
	UnknownError       Kind = "unknown_error"
)

// Details is the classified form of a provider failure.
// Invariant: RequiresReconnect implies !CanRetry; a dead session cannot
// usefully retry the same payload.
type Details struct {
	Kind              Kind   `json:"kind"`
	Message           string `json:"message"`
	CanRetry          bool   `json:"canRetry"`
	RequiresReconnect bool   `json:"requiresReconnect"`
}

// rule is one entry in the ordered classification table. First match wins,
// so more specific markers must come before broader ones.
type rule struct {
	kind              Kind
	codes             []int
	markers           []string
	message           string
	canRetry          bool
	requiresReconnect bool
}

// rules is the authoritative classification table. Any new provider error
// text must be slotted into exactly one bucket here, never silently
// dropped; keeping this a single ordered list makes shadowing auditable.
var rules = []rule{
	{
		kind:              SessionExpired,
		markers:           []string{"session expired", "session closed", "session not found", "logged out", "disconnected session"},
		message:           "Your session has expired. Reconnect to continue sending messages.",
		requiresReconnect: true,
	},
	{
		kind:              JWTInvalid,
		markers:           []string{"jwt", "invalid token", "token expired", "token invalid", "malformed token"},
		message:           "Your credentials are no longer valid. Reconnect to continue.",
		requiresReconnect: true,
	},
	{
		kind:              AuthUnauthorized,
		codes:             []int{401},
		markers:           []string{"unauthorized", "not authenticated", "authentication failed", "401"},
		message:           "Not authenticated. Reconnect to continue.",
		requiresReconnect: true,
	},
	{
		kind:    AuthForbidden,
		codes:   []int{403},
		markers: []string{"forbidden", "permission denied", "not allowed", "access denied", "403"},
		message: "You do not have permission to perform this action.",
	},
	{
		kind:     RateLimit,
		codes:    []int{429},
		markers:  []string{"rate limit", "too many requests", "throttle", "429"},
		message:  "Too many messages sent. Wait a moment before trying again.",
		canRetry: true,
	},
	{
		kind:    PhoneInvalid,
		markers: []string{"invalid phone", "invalid number", "not a valid phone", "number does not exist", "unknown contact"},
		message: "The phone number is invalid. Check the contact and try again.",
	},
	{
		kind:    PhoneBlocked,
		markers: []string{"blocked", "blacklist", "recipient unavailable"},
		message: "This contact cannot receive messages from this account.",
	},
	{
		kind:     NetworkError,
		markers:  []string{"network", "connection refused", "connection reset", "timeout", "timed out", "unreachable", "no route to host", "broken pipe"},
		message:  "Network problem while sending. Try again.",
		canRetry: true,
	},
	{
		kind:     ServerError,
		codes:    []int{500, 502},
		markers:  []string{"internal server error", "server error", "bad gateway", "500", "502"},
		message:  "The messaging service hit an internal error. Try again shortly.",
		canRetry: true,
	},
	{
		kind:     ServiceUnavailable,
		codes:    []int{503},
		markers:  []string{"service unavailable", "unavailable", "maintenance", "overloaded", "503"},
		message:  "The messaging service is temporarily unavailable. Try again shortly.",
		canRetry: true,
	},
	{
		kind:    WindowExpired,
		codes:   []int{470},
		markers: []string{"window expired", "24 hour", "24h window", "message window", "re-engagement", "470"},
		message: "The 24-hour response window has closed. Send a template message instead.",
	},
	{
		kind:    ConfigError,
		markers: []string{"not configured", "configuration", "misconfigur", "missing api key", "invalid api key"},
		message: "The messaging channel is misconfigured. Contact an administrator.",
	},
}

var unknownDetails = Details{
	Kind:     UnknownError,
	Message:  "Something went wrong while sending. Try again.",
	CanRetry: true,
}

// Classify maps a raw provider failure to its taxonomy entry. Input may be
// a string, an error, a decoded JSON object, or raw JSON bytes; malformed
// or unrecognized input never panics and falls through to unknown_error,
// which conservatively allows a retry.
func Classify(raw any) Details {
	text, code := normalize(raw)
	text = strings.ToLower(text)

	for _, r := range rules {
		if matches(r, text, code) {
			return Details{
				Kind:              r.kind,
				Message:           r.message,
				CanRetry:          r.canRetry,
				RequiresReconnect: r.requiresReconnect,
			}
		}
	}
	return unknownDetails
}

func matches(r rule, text string, code int) bool {
	if code != 0 {
		for _, c := range r.codes {
			if c == code {
				return true
			}
		}
	}
	for _, m := range r.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// normalize flattens the raw payload into searchable text plus an optional
// structured status code.
func normalize(raw any) (text string, code int) {
	switch v := raw.(type) {
	case nil:
		return "", 0
	case string:
		return v, 0
	case error:
		return v.Error(), 0
	case []byte:
		var decoded map[string]any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return string(v), 0
		}
		return fromMap(decoded)
	case json.RawMessage:
		return normalize([]byte(v))
	case map[string]any:
		return fromMap(v)
	default:
		return fmt.Sprintf("%v", v), 0
	}
}

// fromMap pulls message-ish and code-ish fields out of a structured payload.
// Everything else is appended so no marker hiding in an odd field is lost.
func fromMap(m map[string]any) (string, int) {
	var parts []string
	code := 0

	for _, key := range []string{"message", "error", "detail", "description", "reason"} {
		if s, ok := m[key].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	for _, key := range []string{"code", "status", "statusCode", "status_code"} {
		if c := asInt(m[key]); c != 0 {
			code = c
			break
		}
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%v", m))
	}
	return strings.Join(parts, " "), code
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
