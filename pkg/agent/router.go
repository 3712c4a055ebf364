package agent

import "strings"

// Route names the agent node that will answer this turn.
type Route string

// Routes.
const (
	RouteMain     Route = "main"
	RouteFollowup Route = "followup"
	RouteFallback Route = "fallback"
)

// followupCues are message openers that signal the customer is continuing
// the previous topic rather than starting a new one.
var followupCues = []string{
	"what about",
	"tell me more",
	"continue",
	"elaborate",
	"and also",
	"bagaimana dengan", // Indonesian "what about"
	"lanjut",           // Indonesian "continue"
}

// route is a pure function of the moderation verdict and the turn input.
func route(verdict Verdict, input Input) Route {
	if !verdict.IsSafe {
		return RouteFallback
	}
	if contextBool(input.Context, "is_followup") {
		return RouteFollowup
	}
	opener := strings.ToLower(strings.TrimSpace(lastUserContent(input.History)))
	for _, cue := range followupCues {
		if strings.HasPrefix(opener, cue) {
			return RouteFollowup
		}
	}
	return RouteMain
}
