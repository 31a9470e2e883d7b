package orchestrator

import (
	"fmt"
	"strings"
)

// ResetPolicy decides what a reset without a target does.
type ResetPolicy int32

const (
	// ResetSingle resets the single active timer, or the only timer when
	// none is active. Anything else is an ambiguous target.
	ResetSingle ResetPolicy = iota

	// ResetAll resets every timer.
	ResetAll

	// ResetNew leaves existing timers alone and creates a new default timer.
	ResetNew
)

func (p ResetPolicy) String() string {
	switch p {
	case ResetSingle:
		return "single"
	case ResetAll:
		return "all"
	case ResetNew:
		return "new"
	default:
		return fmt.Sprintf("reset_policy(%d)", int32(p))
	}
}

// ParseResetPolicy parses a policy name. The empty string selects
// [ResetSingle].
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return ResetSingle, nil
	case "all":
		return ResetAll, nil
	case "new":
		return ResetNew, nil
	}
	return ResetSingle, fmt.Errorf("orchestrator: unknown reset policy %q (want single, all or new)", s)
}
