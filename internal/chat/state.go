package chat

import "slices"

// State is a chat session lifecycle state.
type State string

const (
	StateInitiating       State = "initiating"
	StateOfferSent        State = "offer_sent"
	StateOfferReceived    State = "offer_received"
	StateRinging          State = "ringing"
	StateAccepted         State = "accepted"
	StateMediaNegotiating State = "media_negotiating"
	StateEstablished      State = "established"
	StateTerminating      State = "terminating"
	StateTerminated       State = "terminated"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StateInitiating:       {StateOfferSent, StateOfferReceived, StateTerminated},
	StateOfferSent:        {StateMediaNegotiating, StateTerminated},
	StateOfferReceived:    {StateRinging, StateAccepted, StateTerminated},
	StateRinging:          {StateAccepted, StateTerminated},
	StateAccepted:         {StateMediaNegotiating, StateTerminated},
	StateMediaNegotiating: {StateEstablished, StateTerminating, StateTerminated},
	StateEstablished:      {StateTerminating, StateTerminated},
	StateTerminating:      {StateTerminated},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// Final reports whether s ends the lifecycle.
func (s State) Final() bool { return s == StateTerminated }

// TerminationReason says why a session ended.
type TerminationReason string

const (
	ReasonUser       TerminationReason = "user"
	ReasonRemote     TerminationReason = "remote"
	ReasonTimeout    TerminationReason = "timeout"
	ReasonInactivity TerminationReason = "inactivity"
	ReasonSystem     TerminationReason = "system"
	ReasonError      TerminationReason = "error"
)

// Kind distinguishes 1-1 sessions from group chats.
type Kind string

const (
	KindOneToOne Kind = "one-to-one"
	KindGroup    Kind = "group"
)

// Direction tells who sent the INVITE.
type Direction string

const (
	Originating Direction = "originating"
	Terminating Direction = "terminating"
)
