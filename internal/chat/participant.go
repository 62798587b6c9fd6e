package chat

import (
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/conference"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/resourcelist"
)

// ParticipantStatus is a group chat roster state.
type ParticipantStatus string

const (
	ParticipantUnknown      ParticipantStatus = "unknown"
	ParticipantInviteQueued ParticipantStatus = "invite_queued"
	ParticipantInviting     ParticipantStatus = "inviting"
	ParticipantInvited      ParticipantStatus = "invited"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantDeparted     ParticipantStatus = "departed"
	ParticipantFailed       ParticipantStatus = "failed"
	ParticipantDeclined     ParticipantStatus = "declined"
)

// Participant is one roster entry.
type Participant struct {
	Contact contact.ID        `json:"contact"`
	Status  ParticipantStatus `json:"status"`
}

// Roster maps each participant to its status.
type Roster map[contact.ID]ParticipantStatus

// Clone returns a copy of r.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for c, s := range r {
		out[c] = s
	}
	return out
}

// Contacts returns the roster keys.
func (r Roster) Contacts() []contact.ID {
	out := make([]contact.ID, 0, len(r))
	for c := range r {
		out = append(out, c)
	}
	return out
}

// rejoinable are the stored statuses of participants who should still be in
// the chat when it is re-entered.
var rejoinable = map[ParticipantStatus]bool{
	ParticipantInviting:     true,
	ParticipantInvited:      true,
	ParticipantConnected:    true,
	ParticipantDisconnected: true,
}

// restartable additionally keeps invitations that never went out.
var restartable = map[ParticipantStatus]bool{
	ParticipantInviteQueued: true,
	ParticipantInviting:     true,
	ParticipantInvited:      true,
	ParticipantConnected:    true,
	ParticipantDisconnected: true,
}

// MissingParticipants returns the stored participants absent from the
// offered roster who were still part of the chat. Departed, failed and
// declined participants are not re-invited.
func MissingParticipants(stored, offered Roster) []contact.ID {
	var missing []contact.ID
	for c, s := range stored {
		if _, ok := offered[c]; ok {
			continue
		}
		if rejoinable[s] {
			missing = append(missing, c)
		}
	}
	return missing
}

// restartParticipants returns the stored participants to put in the
// resource list of a restarted chat.
func restartParticipants(stored Roster) []contact.ID {
	var out []contact.ID
	for c, s := range stored {
		if restartable[s] {
			out = append(out, c)
		}
	}
	return out
}

// RosterFromResourceList decodes a resource list, assigning status to every
// valid entry other than self.
func RosterFromResourceList(data []byte, self contact.ID, status ParticipantStatus, logger *zap.Logger) (Roster, error) {
	ids, err := resourcelist.Parse(data, self, logger)
	if err != nil {
		return nil, err
	}
	r := make(Roster, len(ids))
	for _, id := range ids {
		r[id] = status
	}
	return r, nil
}

// StatusFromConference maps a conference-info user entry to a roster
// status. A disconnection method overrides the state, and a failure reason
// carrying 603 means the user declined.
func StatusFromConference(u conference.User) ParticipantStatus {
	state := u.State
	if state == conference.StateDisconnected {
		if u.DisconnectionMethod != "" {
			state = u.DisconnectionMethod
		}
		if strings.Contains(u.FailureReason, "603") {
			state = conference.StateDeclined
		}
	}
	switch state {
	case conference.StateDialingIn, conference.StateDialingOut,
		conference.StatePending, conference.StatePendingIn, conference.StatePendingOut:
		return ParticipantInvited
	case conference.StateConnected:
		return ParticipantConnected
	case conference.StateDisconnected, conference.StateBooted, conference.StateBusy:
		return ParticipantDisconnected
	case conference.StateDeparted:
		return ParticipantDeparted
	case conference.StateFailed:
		return ParticipantFailed
	case conference.StateDeclined:
		return ParticipantDeclined
	default:
		return ParticipantUnknown
	}
}

func rosterFromStore(m map[string]string) Roster {
	r := make(Roster, len(m))
	for c, s := range m {
		r[contact.ID(c)] = ParticipantStatus(s)
	}
	return r
}

func contactURIs(ids []contact.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.URI()
	}
	return out
}
