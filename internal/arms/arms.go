// Package arms lists the product lines content is partitioned by.
package arms

import "strings"

const (
	Labs       = "labs"
	GameForge  = "gameforge"
	Corp       = "corp"
	Foundation = "foundation"
	DevLink    = "devlink"
	Nexus      = "nexus"
	Staff      = "staff"
)

// All lists every arm in display order.
var All = []string{Labs, GameForge, Corp, Foundation, DevLink, Nexus, Staff}

// Normalize lower-cases and trims an arm name.
func Normalize(arm string) string {
	return strings.ToLower(strings.TrimSpace(arm))
}

// Valid reports whether arm names a known arm. Case and surrounding
// whitespace are ignored.
func Valid(arm string) bool {
	arm = Normalize(arm)
	for _, a := range All {
		if a == arm {
			return true
		}
	}
	return false
}
