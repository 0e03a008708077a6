package workflow

import (
	"errors"
	"fmt"
	"slices"

	"ticketflow/internal/items"
)

// ErrInvalidTransition reports a stage change the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid stage transition")

var transitions = map[items.Stage][]items.Stage{
	items.StageFetched:       {items.StageClassified, items.StageDiscarded},
	items.StageClassified:    {items.StageSummarized},
	items.StageSummarized:    {items.StageCategorized},
	items.StageCategorized:   {items.StageTicketCreated, items.StageFailed},
	items.StageTicketCreated: {items.StageNotified},
	items.StageNotified:      {items.StageTracking},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to items.Stage) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(from, to items.Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
