package ride

import "strings"

// isAgentDoneBug recognizes a known failure mode of the browser agent:
// when the model ends its run, the final-response conversion sometimes
// fails with a message-type error ("ModelMessage" / "UIMessage") even
// though the page has already reached the ride results. The page state
// is still good, so callers fall back to direct extraction instead of
// reporting failure.
func isAgentDoneBug(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "ModelMessage") || strings.Contains(msg, "UIMessage")
}
