package director

import (
	"regexp"
	"strings"
)

// Offline responder routes and their fixed public lines. These strings are
// the entire offline vocabulary; nothing is generated.
const (
	RouteRefusal        = "responder:refusal"
	RouteSensitiveAck   = "responder:sensitive_ack"
	RouteClarify        = "responder:clarify"
	RouteNeutralAck     = "responder:neutral_ack"
	RoutePolicySafeInfo = "responder:policy_safe_info"
)

var responderText = map[string]string{
	RouteNeutralAck:     "Got it.",
	RouteClarify:        "Quick check—are you asking me, and what exactly do you mean?",
	RouteRefusal:        "Can’t help with that.",
	RouteSensitiveAck:   "Hope you're doing okay. Glad you're here.",
	RoutePolicySafeInfo: "Camera: (configured gear).",
}

// Respond returns the fixed line for an offline route, or "" when the
// route has no responder.
func Respond(route string) string {
	return responderText[route]
}

// Safe-info utility categories.
const (
	UtilityGear     = "utility_gear"
	UtilityLibrary  = "utility_library"
	UtilityTrackID  = "utility_track_id"
	UtilityCourtesy = "courtesy"
)

var (
	gearRE     = regexp.MustCompile(`(?i)\b(camera|cam|mic|microphone|gear|setup|software|controller|deck|mixer|turntable)\b`)
	libraryRE  = regexp.MustCompile(`(?i)\b(library|collection|crate)\b|do\s+you\s+have`)
	trackAskRE = regexp.MustCompile(`(?i)\btrack\b|\bsong\b|\btune\b`)
	thanksRE   = regexp.MustCompile(`(?i)\b(thanks|thank\s+you|ty|cheers)\b`)
)

// ClassifySafeInfoCategory buckets a direct question/request into the
// utility category answered from fixed studio facts or the library index.
func ClassifySafeInfoCategory(message string) string {
	text := strings.TrimSpace(message)
	switch {
	case libraryRE.MatchString(text):
		return UtilityLibrary
	case trackAskRE.MatchString(text):
		return UtilityTrackID
	case thanksRE.MatchString(text):
		return UtilityCourtesy
	case gearRE.MatchString(text):
		return UtilityGear
	default:
		return UtilityGear
	}
}
