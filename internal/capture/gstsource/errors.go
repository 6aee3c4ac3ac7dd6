package gstsource

import "strings"

// ErrorCategory classifies pipeline errors for logs and reopen decisions
type ErrorCategory int

const (
	// CategoryNetwork covers connection, timeout and DNS failures
	CategoryNetwork ErrorCategory = iota
	// CategoryCodec covers decode and caps negotiation failures
	CategoryCodec
	// CategoryAuth covers rejected credentials
	CategoryAuth
	// CategoryUnknown is everything else
	CategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryCodec:
		return "codec"
	case CategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials",
	}
	codecKeywords = []string{
		"codec", "decode", "format", "negotiation", "caps", "h264", "h265",
		"not negotiated", "no decoder", "missing plugin",
	}
	networkKeywords = []string{
		"connection", "timeout", "timed out", "unreachable", "network", "resolve",
		"socket", "could not connect", "failed to connect", "not found", "rtsp",
	}
)

// classify inspects a GStreamer error message and its debug string.
// Auth is checked first, then codec, then network (most common).
func classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return CategoryAuth
	case containsAny(combined, codecKeywords):
		return CategoryCodec
	case containsAny(combined, networkKeywords):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
