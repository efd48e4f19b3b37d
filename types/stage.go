package types

import (
	"fmt"
	"strings"
)

// Stage identifies one of the due-deletion notification windows.
type Stage int

const (
	StageFirst Stage = iota + 1
	StageSecond
	StageThird
)

// Stages lists every stage from the most recent window to the oldest.
var Stages = []Stage{StageFirst, StageSecond, StageThird}

func (s Stage) String() string {
	switch s {
	case StageFirst:
		return "first"
	case StageSecond:
		return "second"
	case StageThird:
		return "third"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s >= StageFirst && s <= StageThird
}

// ParseStage maps "first", "second" or "third" to a Stage.
func ParseStage(value string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "first":
		return StageFirst, nil
	case "second":
		return StageSecond, nil
	case "third":
		return StageThird, nil
	default:
		return 0, fmt.Errorf("unknown notification stage %q", value)
	}
}
