package domain

import (
	"fmt"
	"strings"
)

// RuntimeTarget selects the storage backend used to locate database files.
// It is resolved once at startup.
type RuntimeTarget string

const (
	TargetWeb     RuntimeTarget = "web"     // sandboxed persistent storage, operator-selected files
	TargetAndroid RuntimeTarget = "android" // application storage, databases subdirectory
	TargetIOS     RuntimeTarget = "ios"     // user documents directory
)

// ParseRuntimeTarget parses a configured runtime target.
func ParseRuntimeTarget(s string) (RuntimeTarget, error) {
	switch t := RuntimeTarget(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetWeb, TargetAndroid, TargetIOS:
		return t, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrPlatformNotSupported)
	}
}

// IsMobile returns true for the native mobile targets.
func (t RuntimeTarget) IsMobile() bool {
	return t == TargetAndroid || t == TargetIOS
}

// DatabaseLocation returns the native location parameter for the target.
func (t RuntimeTarget) DatabaseLocation() string {
	if t == TargetIOS {
		return "Documents"
	}
	return "default"
}
