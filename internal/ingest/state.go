package ingest

// State represents the lifecycle of a work item within a run.
type State string

const (
	StateEnumerated  State = "enumerated"
	StateTransformed State = "transformed"
	StateTransferred State = "transferred"
	StateRegistered  State = "registered"
	// StateDone is the success state for variants without a registration
	// step, such as downloads.
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateSkipped     State = "skipped"
)

var stateRank = map[State]int{
	StateEnumerated:  0,
	StateTransformed: 1,
	StateTransferred: 2,
	StateRegistered:  3,
	StateDone:        3,
}

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateRegistered, StateDone, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// CanAdvance reports whether moving from s to next keeps the item moving
// forward. Failed and skipped are reachable from any non-terminal state.
func (s State) CanAdvance(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed || next == StateSkipped {
		return true
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Reason is the machine-readable cause attached to a failed or skipped item.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonConversionError   Reason = "conversion_error"
	ReasonTransferError     Reason = "transfer_error"
	ReasonDuplicateKey      Reason = "duplicate_key"
	ReasonRegistrationError Reason = "registration_error"
	ReasonInterrupted       Reason = "interrupted"

	// Skip reasons.
	ReasonAlreadyPresent    Reason = "already_present"
	ReasonAlreadyRegistered Reason = "already_registered"
	ReasonDryRun            Reason = "dry_run"
)
