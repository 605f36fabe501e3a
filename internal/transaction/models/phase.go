package models

import "strings"

// Phase is the booking phase of a transaction.
type Phase string

const (
	PhaseSearchInitiated  Phase = "SEARCH_INITIATED"
	PhaseResultsReceived  Phase = "RESULTS_RECEIVED"
	PhaseSelectInitiated  Phase = "SELECT_INITIATED"
	PhaseQuoteReceived    Phase = "QUOTE_RECEIVED"
	PhaseInitInitiated    Phase = "INIT_INITIATED"
	PhaseInitCompleted    Phase = "INIT_COMPLETED"
	PhaseConfirmInitiated Phase = "CONFIRM_INITIATED"
	PhaseConfirmed        Phase = "CONFIRMED"

	PhaseSearchError  Phase = "SEARCH_ERROR"
	PhaseSelectError  Phase = "SELECT_ERROR"
	PhaseInitError    Phase = "INIT_ERROR"
	PhaseConfirmError Phase = "CONFIRM_ERROR"
	PhaseStatusError  Phase = "STATUS_ERROR"
	PhaseCancelError  Phase = "CANCEL_ERROR"

	PhaseExpired Phase = "EXPIRED"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseSearchInitiated:  {PhaseResultsReceived, PhaseSearchError, PhaseExpired},
	PhaseSearchError:      {PhaseResultsReceived, PhaseExpired},
	PhaseResultsReceived:  {PhaseSelectInitiated, PhaseExpired},
	PhaseSelectInitiated:  {PhaseQuoteReceived, PhaseSelectError, PhaseExpired},
	PhaseSelectError:      {PhaseSelectInitiated, PhaseExpired},
	PhaseQuoteReceived:    {PhaseInitInitiated, PhaseExpired},
	PhaseInitInitiated:    {PhaseInitCompleted, PhaseInitError, PhaseExpired},
	PhaseInitError:        {PhaseInitInitiated, PhaseExpired},
	PhaseInitCompleted:    {PhaseConfirmInitiated, PhaseExpired},
	PhaseConfirmInitiated: {PhaseConfirmed, PhaseConfirmError, PhaseExpired},
	PhaseConfirmError:     {PhaseConfirmInitiated, PhaseExpired},
	PhaseConfirmed:        {PhaseStatusError, PhaseCancelError},
	PhaseStatusError:      {PhaseConfirmed, PhaseCancelError},
	PhaseCancelError:      {PhaseConfirmed, PhaseStatusError},
	PhaseExpired:          nil,
}

// progress orders phases along the booking flow; error phases share the
// rank of the step that failed.
var progress = map[Phase]int{
	PhaseSearchInitiated:  0,
	PhaseSearchError:      0,
	PhaseResultsReceived:  1,
	PhaseSelectInitiated:  2,
	PhaseSelectError:      2,
	PhaseQuoteReceived:    3,
	PhaseInitInitiated:    4,
	PhaseInitError:        4,
	PhaseInitCompleted:    5,
	PhaseConfirmInitiated: 6,
	PhaseConfirmError:     6,
	PhaseConfirmed:        7,
	PhaseStatusError:      7,
	PhaseCancelError:      7,
	PhaseExpired:          8,
}

func (p Phase) String() string { return string(p) }

func (p Phase) IsValid() bool {
	_, ok := phaseTransitions[p]
	return ok
}

// IsError reports whether p records a counterparty failure.
func (p Phase) IsError() bool {
	return strings.HasSuffix(string(p), "_ERROR")
}

// InFlight reports whether the booking is still being negotiated and may
// therefore expire.
func (p Phase) InFlight() bool {
	return p.IsValid() && progress[p] < progress[PhaseConfirmed]
}

// CanTransitionTo reports whether next is reachable from p. Staying in the
// same phase is always allowed so redelivered messages are harmless.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == next {
		return p.IsValid()
	}
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsBehind reports whether p is an earlier step of the flow than other.
func (p Phase) IsBehind(other Phase) bool {
	return progress[p] < progress[other]
}

// InFlightPhases lists every phase eligible for expiry.
func InFlightPhases() []Phase {
	var out []Phase
	for p := range phaseTransitions {
		if p.InFlight() {
			out = append(out, p)
		}
	}
	return out
}

// ErrorPhaseFor maps an action (with or without the on_ prefix) to the
// phase recording its failure.
func ErrorPhaseFor(action string) (Phase, bool) {
	switch strings.TrimPrefix(action, "on_") {
	case "search":
		return PhaseSearchError, true
	case "select":
		return PhaseSelectError, true
	case "init":
		return PhaseInitError, true
	case "confirm":
		return PhaseConfirmError, true
	case "status":
		return PhaseStatusError, true
	case "cancel":
		return PhaseCancelError, true
	}
	return "", false
}

// FulfillmentPhase tracks the ride once the order is confirmed.
type FulfillmentPhase string

const (
	FulfillmentNone      FulfillmentPhase = ""
	FulfillmentAssigned  FulfillmentPhase = "ASSIGNED"
	FulfillmentStarted   FulfillmentPhase = "STARTED"
	FulfillmentCompleted FulfillmentPhase = "COMPLETED"
	FulfillmentCancelled FulfillmentPhase = "CANCELLED"
)

var fulfillmentTransitions = map[FulfillmentPhase][]FulfillmentPhase{
	FulfillmentNone:      {FulfillmentAssigned, FulfillmentStarted, FulfillmentCompleted, FulfillmentCancelled},
	FulfillmentAssigned:  {FulfillmentStarted, FulfillmentCompleted, FulfillmentCancelled},
	FulfillmentStarted:   {FulfillmentCompleted, FulfillmentCancelled},
	FulfillmentCompleted: nil,
	FulfillmentCancelled: nil,
}

func (f FulfillmentPhase) IsValid() bool {
	_, ok := fulfillmentTransitions[f]
	return ok
}

func (f FulfillmentPhase) IsTerminal() bool {
	return f == FulfillmentCompleted || f == FulfillmentCancelled
}

// CanTransitionTo reports whether next is reachable from f; staying put is allowed.
func (f FulfillmentPhase) CanTransitionTo(next FulfillmentPhase) bool {
	if f == next {
		return f.IsValid()
	}
	for _, allowed := range fulfillmentTransitions[f] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FulfillmentFromNetwork maps a network fulfillment or order state code.
// Unknown codes return false.
func FulfillmentFromNetwork(code string) (FulfillmentPhase, bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "RIDE_ASSIGNED", "RIDE_ENROUTE_PICKUP", "RIDE_ARRIVED_PICKUP", "DRIVER_ASSIGNED", "AGENT_ASSIGNED":
		return FulfillmentAssigned, true
	case "RIDE_STARTED", "RIDE_IN_PROGRESS", "IN_PROGRESS":
		return FulfillmentStarted, true
	case "RIDE_ENDED", "RIDE_COMPLETED", "COMPLETED", "COMPLETE":
		return FulfillmentCompleted, true
	case "RIDE_CANCELLED", "CANCELLED", "CANCELED":
		return FulfillmentCancelled, true
	}
	return FulfillmentNone, false
}
