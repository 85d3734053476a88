package chat

import (
	"regexp"
	"strings"
)

var (
	angleBrackets = strings.NewReplacer("<", "", ">", "")
	scriptScheme  = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)on\w+=`)
)

// Sanitize strips markup fragments from user input and trims it.
func Sanitize(s string) string {
	s = angleBrackets.Replace(s)
	s = scriptScheme.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
