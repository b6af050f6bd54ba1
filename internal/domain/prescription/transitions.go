package prescription

import (
	"strings"

	"github.com/ehr/rxledger/internal/platform/apperr"
)

// Transitions lists the moves a pharmacist update is expected to make.
// Repeating a non-terminal status is allowed so dispenses can be recorded in
// several updates.
var Transitions = map[Status][]Status{
	StatusRequested:  {StatusRequested, StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected},
	StatusPending:    {StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected},
	StatusInProgress: {StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusRejected:   {},
}

func CanTransition(from, to Status) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionPolicy decides what happens to moves outside Transitions.
type TransitionPolicy string

const (
	// TransitionPermissive accepts any move and logs the off-table ones.
	TransitionPermissive TransitionPolicy = "permissive"
	// TransitionStrict rejects off-table moves with a domain error.
	TransitionStrict TransitionPolicy = "strict"
)

func ParseTransitionPolicy(s string) (TransitionPolicy, error) {
	switch p := TransitionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", TransitionPermissive:
		return TransitionPermissive, nil
	case TransitionStrict:
		return TransitionStrict, nil
	default:
		return "", apperr.Config("unknown transition policy %q", s)
	}
}
