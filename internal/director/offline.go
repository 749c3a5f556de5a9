// Package director holds the decision engines that turn one inbound event
// into at most one public response. Silence is the default outcome; every
// path that speaks has to justify itself in the trace.
package director

import (
	"regexp"
	"strings"

	"github.com/rooniethecat/roonie/internal/behavior"
	"github.com/rooniethecat/roonie/internal/roonie"
	"github.com/rooniethecat/roonie/internal/safety"
)

var (
	underspecifiedREs = []*regexp.Regexp{
		regexp.MustCompile(`\bfix it\b`),
		regexp.MustCompile(`\bdo that again\b`),
	}
	punctOnlyRE   = regexp.MustCompile(`^\W+$`)
	vaguePronounRE = regexp.MustCompile(`\b(it|that)\b`)
)

// OfflineDirector answers from fixed responders only. No provider, no
// network, fully deterministic.
type OfflineDirector struct {
	// Library, when set, backs availability answers for library questions.
	Library *Library
}

// Evaluate decides one event.
func (d *OfflineDirector) Evaluate(ev roonie.Event, env roonie.Env) roonie.DecisionRecord {
	message := strings.TrimSpace(ev.Message)
	messageLower := strings.ToLower(message)

	addressed := ev.MetaBool("is_direct_mention")
	if strings.Contains(messageLower, "@roonie") || strings.HasPrefix(messageLower, "roonie") {
		addressed = true
	}

	triggerType := "banter"
	if strings.Contains(ev.Message, "?") {
		triggerType = "direct_question"
	} else if behavior.StartsWithDirectVerb(messageLower) {
		triggerType = "direct_request"
	}
	if addressed && triggerType == "banter" && behavior.ContainsDirectVerbWord(messageLower) {
		triggerType = "direct_request"
	}

	ambiguity := false
	if addressed {
		if len(message) < 4 {
			ambiguity = true
		}
		if punctOnlyRE.MatchString(message) {
			ambiguity = true
		}
		if strings.Contains(message, "??") || strings.Contains(messageLower, "that thing") {
			ambiguity = true
		}
		if triggerType == "direct_request" {
			for _, re := range underspecifiedREs {
				if re.MatchString(messageLower) {
					ambiguity = true
				}
			}
			if vaguePronounRE.MatchString(messageLower) && len(strings.Fields(message)) <= 3 {
				ambiguity = true
			}
		}
	} else if strings.Contains(ev.Message, "?") {
		ambiguity = true
	}

	safetyClass, refusalReason := safety.Classify(message)
	liveGreeting := addressed && triggerType == "banter" && behavior.IsLiveGreeting(
		messageLower, ev.MetaString("mode"), ev.MetaString("platform"))

	noopBias := true
	action := roonie.ActionNoop
	route := "none"
	var reasonCodes []string
	var selectedResponder, utilityCategory, utilitySource, matchConfidence string

	shouldRespond := addressed && (triggerType == "direct_question" ||
		triggerType == "direct_request" ||
		ambiguity ||
		safetyClass == safety.Refuse ||
		safetyClass == safety.SensitiveNoFollowup ||
		liveGreeting)

	if shouldRespond {
		noopBias = false
		switch {
		case safetyClass == safety.Refuse:
			action, route = roonie.ActionRespondPublic, RouteRefusal
			reasonCodes = append(reasonCodes, "ROUTE_REFUSAL_SAFETY")
		case safetyClass == safety.SensitiveNoFollowup:
			action, route = roonie.ActionRespondPublic, RouteSensitiveAck
			reasonCodes = append(reasonCodes, "ROUTE_SENSITIVE_NO_FOLLOWUP")
		case ambiguity:
			action, route = roonie.ActionRespondPublic, RouteClarify
			reasonCodes = append(reasonCodes, "ROUTE_CLARIFY_AMBIGUITY")
		case liveGreeting:
			action, route = roonie.ActionRespondPublic, RouteNeutralAck
			reasonCodes = append(reasonCodes, "ROUTE_DIRECT_GREETING")
		default:
			action, route = roonie.ActionRespondPublic, RoutePolicySafeInfo
			utilityCategory = ClassifySafeInfoCategory(ev.Message)
			if utilityCategory == UtilityLibrary {
				utilitySource = "library_index"
				matchConfidence = d.Library.Ground(ev.Message, "").Confidence
			} else {
				utilitySource = "studio_profile"
			}
			reasonCodes = append(reasonCodes, "ROUTE_SAFE_INFO")
		}
		selectedResponder = route
	}

	var responseText *string
	if action == roonie.ActionRespondPublic {
		if text := Respond(route); text != "" {
			responseText = roonie.StringPtr(text)
		} else {
			// Never respond publicly without a line to say.
			action, route = roonie.ActionNoop, "none"
		}
	}

	return roonie.DecisionRecord{
		CaseID:       ev.MetaString("case_id"),
		EventID:      ev.EventID,
		Action:       action,
		Route:        route,
		ResponseText: responseText,
		Trace: roonie.Trace{
			Gates: &roonie.GatesTrace{
				AddressedToRoonie: addressed,
				TriggerType:       triggerType,
				AmbiguityDetected: ambiguity,
				NoopBiasApplied:   noopBias,
			},
			Policy: &roonie.PolicyTrace{
				SafetyClassification: string(safetyClass),
				RefusalReasonCode:    refusalReason,
			},
			Routing: &roonie.RoutingTrace{
				SelectedResponder:  selectedResponder,
				RoutingReasonCodes: reasonCodes,
				UtilityCategory:    utilityCategory,
				UtilitySource:      utilitySource,
				MatchConfidence:    matchConfidence,
			},
		},
	}
}
