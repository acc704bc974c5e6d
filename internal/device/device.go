// Package device holds what the MIDI input and output sides share: port
// selection by name pattern and the error reported when hardware is missing.
package device

import (
	"fmt"
	"strings"
)

// ResourceError reports an input or output device that could not be opened.
// It is fatal at startup.
type ResourceError struct {
	Device string
	Err    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("device %q unavailable: %v", e.Device, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Virtual/system ports that are never auto-connected.
var DefaultExcluded = []string{"Midi Through", "Through Port", "Dummy"}

// Filter drops port names matching any excluded pattern (case-insensitive).
func Filter(names, excluded []string) []string {
	var out []string
	for _, name := range names {
		skip := false
		for _, pat := range excluded {
			if ContainsCI(name, pat) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, name)
		}
	}
	return out
}

// Pick returns the first name matching a preferred pattern, in pattern
// order. With no match it falls back to the only candidate, if there is
// exactly one.
func Pick(names, preferred []string) (string, bool) {
	for _, pat := range preferred {
		for _, name := range names {
			if ContainsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(names) == 1 {
		return names[0], true
	}
	return "", false
}

// ContainsCI is a case-insensitive strings.Contains.
func ContainsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
