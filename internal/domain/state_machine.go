package domain

import "github.com/lnxdrive/lnxdrive/internal/lnxerrors"

// ItemState is the exhaustive state machine a SyncItem moves through,
// per spec.md §3.
type ItemState int

const (
	StateOnline ItemState = iota
	StateHydrating
	StateHydrated
	StateModified
	StateConflicted
	StateError
	StateDeleted
)

func (s ItemState) String() string {
	switch s {
	case StateOnline:
		return "Online"
	case StateHydrating:
		return "Hydrating"
	case StateHydrated:
		return "Hydrated"
	case StateModified:
		return "Modified"
	case StateConflicted:
		return "Conflicted"
	case StateError:
		return "Error"
	case StateDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Transition is a named edge in the state machine; "any" transitions
// (error, delete) are handled separately since they apply from every state
// except the terminal Deleted state.
type Transition string

const (
	TransitionAccess      Transition = "access"
	TransitionComplete    Transition = "complete"
	TransitionModify      Transition = "modify"
	TransitionSync        Transition = "sync"
	TransitionRemoteAlso  Transition = "remote-also-changed"
	TransitionResolve     Transition = "resolve"
	TransitionDehydrate   Transition = "dehydrate"
	TransitionError       Transition = "error"
	TransitionRecover     Transition = "recover"
	TransitionDelete      Transition = "delete"
	TransitionUndelete    Transition = "undelete"
)

// transitions enumerates every valid (fromState, transition) -> toState
// edge that is not one of the "any" edges (error/delete, handled below).
var transitions = map[ItemState]map[Transition]ItemState{
	StateOnline: {
		TransitionAccess: StateHydrating,
	},
	StateHydrating: {
		TransitionComplete: StateHydrated,
	},
	StateHydrated: {
		TransitionModify:    StateModified,
		TransitionDehydrate: StateOnline,
	},
	StateModified: {
		TransitionSync:       StateHydrated,
		TransitionRemoteAlso: StateConflicted,
	},
	StateConflicted: {
		TransitionResolve: StateHydrated,
	},
}

// Next computes the destination state for (from, transition), or returns an
// InvalidTransition error. "error" and "delete" are valid from any
// non-terminal state; "recover" is handled by Recover, which needs the
// caller to supply the prior class since the state machine alone can't know
// the class to recover into, and "undelete" is handled by Undelete.
func Next(from ItemState, t Transition) (ItemState, error) {
	if t == TransitionDelete {
		if from == StateDeleted {
			return from, lnxerrors.NewInvalidTransitionError("item already deleted")
		}
		return StateDeleted, nil
	}
	if t == TransitionError {
		if from == StateDeleted {
			return from, lnxerrors.NewInvalidTransitionError("item already deleted")
		}
		return StateError, nil
	}
	if edges, ok := transitions[from]; ok {
		if to, ok := edges[t]; ok {
			return to, nil
		}
	}
	return from, lnxerrors.NewInvalidTransitionError(
		"invalid transition " + string(t) + " from " + from.String())
}

// Recover resolves the "any -> error -> recover -> prior class" edge: the
// caller must remember the class the item was in before the error (Online,
// Hydrated, etc.) and supply it here.
func Recover(priorClass ItemState) (ItemState, error) {
	switch priorClass {
	case StateOnline, StateHydrating, StateHydrated, StateModified, StateConflicted:
		return priorClass, nil
	default:
		return StateError, lnxerrors.NewInvalidTransitionError("cannot recover into " + priorClass.String())
	}
}

// Undelete is the sole valid exit from the terminal Deleted state.
func Undelete() (ItemState, error) {
	return StateOnline, nil
}
