package health

import "regexp"

// Error messages can carry connection strings, file paths, or tokens.
// Reports produced here leave the process via the ops endpoints, so those
// fragments are masked before they are stored in a Status.
var (
	urlPattern        = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)
	credentialPattern = regexp.MustCompile(`(?i)(token|password|secret|key|authorization)\s*[=:]\s*[^\s"',;]+`)
	pathPattern       = regexp.MustCompile(`(?:/[\w.-]+){2,}`)
	ipPortPattern     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?\b`)
	hostPortPattern   = regexp.MustCompile(`\b[\w.-]+:\d{2,5}\b`)
)

// FromError builds an unhealthy status for component from err, with the
// message sanitized. A nil error yields a healthy status.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "")
	}
	return NewUnhealthy(component, SanitizeMessage(err.Error()))
}

// SanitizeMessage masks URLs, credentials, filesystem paths, and network
// addresses embedded in msg.
func SanitizeMessage(msg string) string {
	msg = urlPattern.ReplaceAllString(msg, "[URL]")
	msg = credentialPattern.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = ipPortPattern.ReplaceAllString(msg, "[ADDR]")
	msg = hostPortPattern.ReplaceAllString(msg, "[ADDR]")
	msg = pathPattern.ReplaceAllString(msg, "[PATH]")
	return msg
}
