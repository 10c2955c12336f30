// Package spoiler flags chat messages that are likely to spoil a show for
// the other side. Detection is keyword-based and intentionally eager:
// flagged messages are still relayed, the flag only lets clients blur them.
package spoiler

import (
	"strings"
)

// keywords are the terms that mark a message as a potential spoiler.
// Matching is case-insensitive and substring-based, so "Killed" and
// "deathbed" both trip the detector. False positives are acceptable here;
// the client renders flagged messages blurred, never blocked.
var keywords = []string{
	"dies",
	"killed",
	"death",
	"ending",
	"finale",
	"spoiler",
}

// Detect reports whether text contains any spoiler keyword.
func Detect(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
