/**
 * @description
 * This file classifies raw upstream result messages into one of four verdicts
 * that drive the per-code state machine. Classification is keyword-based,
 * case-insensitive, and total: any message, including an empty one, maps to a
 * verdict.
 */

package app

import "strings"

// Verdict is the classified outcome of one redemption attempt.
type Verdict int

const (
	// VerdictUnknown covers messages no keyword table matches, e.g. "no
	// device available" or "server busy". The machine rotates regions on it.
	VerdictUnknown Verdict = iota
	VerdictSuccess
	VerdictInvalid
	VerdictTransient
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictInvalid:
		return "invalid"
	case VerdictTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Keyword tables checked in order; success wins over invalid wins over
// transient when a message matches several.
var (
	successKeywords = []string{"assigned", "success"}

	invalidKeywords = []string{"invalid", "used", "not found", "not exist", "expired", "already"}

	transientKeywords = []string{
		"timeout", "connection", "network", "rate limit",
		"too many", "slow down", "please wait", "try again",
	}
)

// Classify maps a raw upstream result message to a verdict.
func Classify(raw string) Verdict {
	msg := strings.ToLower(raw)

	for _, kw := range successKeywords {
		if strings.Contains(msg, kw) {
			return VerdictSuccess
		}
	}
	for _, kw := range invalidKeywords {
		if strings.Contains(msg, kw) {
			return VerdictInvalid
		}
	}
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return VerdictTransient
		}
	}
	return VerdictUnknown
}
