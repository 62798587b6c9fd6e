package chat

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/conference"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/sip"
	"github.com/matheus3301/rcschat/internal/store"
)

func challenge() *sip.Response {
	r := sip.NewResponse(sip.StatusProxyAuthRequired, "Proxy Authentication Required")
	r.Header.Set("Proxy-Authenticate", `Digest realm="ims", nonce="n1"`)
	return r
}

func TestInviteRetriesOnceAfterChallenge(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.ParticipantsUpdated, 8)
	defer unsub()
	s, d, _ := establishedSession(t, KindGroup, b)
	d.responses = []*sip.Response{challenge(), sip.NewResponse(sip.StatusAccepted, "Accepted")}

	carol := contact.ID("+33633333333")
	require.NoError(t, s.InviteParticipants(context.Background(), []contact.ID{carol}))

	assert.Equal(t, ParticipantInvited, s.Participants()[carol])
	reqs := d.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, sip.MethodRefer, reqs[0].Method)
	assert.Equal(t, "<"+carolURI+">", reqs[0].Header.Get("Refer-To"))
	assert.Empty(t, reqs[0].Header.Get("Proxy-Authorization"))
	assert.NotEmpty(t, reqs[1].Header.Get("Proxy-Authorization"))

	first := waitFor(t, events, bus.ParticipantsUpdated).Payload.(ParticipantsEvent)
	assert.Equal(t, Roster{carol: ParticipantInviting}, first.Changes)
	second := waitFor(t, events, bus.ParticipantsUpdated).Payload.(ParticipantsEvent)
	assert.Equal(t, Roster{carol: ParticipantInvited}, second.Changes)

	stored, err := s.deps.Store.(*store.DB).Participants(s.ChatID())
	require.NoError(t, err)
	assert.Equal(t, "invited", stored[string(carol)])
}

func TestInviteFailsOnSecondChallenge(t *testing.T) {
	s, d, _ := establishedSession(t, KindGroup, nil)
	d.responses = []*sip.Response{challenge(), challenge()}

	carol := contact.ID("+33633333333")
	require.NoError(t, s.InviteParticipants(context.Background(), []contact.ID{carol}))
	assert.Equal(t, ParticipantFailed, s.Participants()[carol])
	assert.Len(t, d.requests(), 2)
}

func TestInviteSkipsKnownParticipants(t *testing.T) {
	s, d, _ := establishedSession(t, KindGroup, nil)
	s.UpdateParticipants(Roster{"+33633333333": ParticipantConnected})

	require.NoError(t, s.InviteParticipants(context.Background(), []contact.ID{"+33633333333", "+33611111111"}))
	assert.Empty(t, d.requests())
}

func TestInviteRespectsLimit(t *testing.T) {
	s, _, _ := establishedSession(t, KindGroup, nil)
	s.deps.Settings.MaxParticipants = 1
	s.UpdateParticipants(Roster{"+33633333333": ParticipantConnected})

	err := s.InviteParticipants(context.Background(), []contact.ID{"+33644444444"})
	assert.ErrorIs(t, err, ErrTooManyParticipants)
}

func TestInviteOnOneToOne(t *testing.T) {
	s, _, _ := establishedSession(t, KindOneToOne, nil)
	assert.ErrorIs(t, s.InviteParticipants(context.Background(), []contact.ID{"+33633333333"}), ErrNotGroup)
}

func TestUpdateParticipantsPublishesChangesOnly(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.ParticipantsUpdated, 8)
	defer unsub()
	s, _, _ := establishedSession(t, KindGroup, b)

	s.UpdateParticipants(Roster{"+33633333333": ParticipantConnected, "+33644444444": ParticipantInvited})
	waitFor(t, events, bus.ParticipantsUpdated)

	s.UpdateParticipants(Roster{"+33633333333": ParticipantConnected, "+33644444444": ParticipantDeparted})
	evt := waitFor(t, events, bus.ParticipantsUpdated).Payload.(ParticipantsEvent)
	assert.Equal(t, Roster{"+33644444444": ParticipantDeparted}, evt.Changes)

	s.UpdateParticipants(Roster{"+33633333333": ParticipantConnected})
	select {
	case evt := <-events:
		t.Fatalf("unchanged roster published: %+v", evt.Payload)
	default:
	}
}

func TestMissingParticipants(t *testing.T) {
	stored := Roster{
		"+33600000001": ParticipantConnected,
		"+33600000002": ParticipantInvited,
		"+33600000003": ParticipantDeparted,
		"+33600000004": ParticipantDisconnected,
		"+33600000005": ParticipantInviting,
		"+33600000006": ParticipantFailed,
		"+33600000007": ParticipantDeclined,
	}
	offered := Roster{"+33600000001": ParticipantConnected}

	got := MissingParticipants(stored, offered)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []contact.ID{"+33600000002", "+33600000004", "+33600000005"}, got)

	assert.Empty(t, MissingParticipants(stored, stored))
	assert.Empty(t, MissingParticipants(nil, offered))
}

func TestRestartParticipantsKeepsQueued(t *testing.T) {
	got := restartParticipants(Roster{
		"+33600000001": ParticipantInviteQueued,
		"+33600000002": ParticipantDeparted,
	})
	assert.Equal(t, []contact.ID{"+33600000001"}, got)
}

func TestStatusFromConference(t *testing.T) {
	tests := []struct {
		user conference.User
		want ParticipantStatus
	}{
		{conference.User{State: conference.StateConnected}, ParticipantConnected},
		{conference.User{State: conference.StateDialingOut}, ParticipantInvited},
		{conference.User{State: conference.StatePending}, ParticipantInvited},
		{conference.User{State: conference.StateBooted}, ParticipantDisconnected},
		{conference.User{State: conference.StateDisconnected}, ParticipantDisconnected},
		{conference.User{State: conference.StateDisconnected, DisconnectionMethod: conference.StateDeparted}, ParticipantDeparted},
		{conference.User{State: conference.StateDisconnected, DisconnectionMethod: conference.StateFailed, FailureReason: "SIP;cause=603"}, ParticipantDeclined},
		{conference.User{State: conference.StateFailed}, ParticipantFailed},
		{conference.User{State: "mystery"}, ParticipantUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFromConference(tt.user), "%+v", tt.user)
	}
}

func TestConferenceInfoSkipsSelf(t *testing.T) {
	s, _, _ := establishedSession(t, KindGroup, nil)
	conferenceHandler{s: s}.ConferenceInfo(&conference.Info{Users: []conference.User{
		{Entity: aliceURI, State: conference.StateConnected},
		{Entity: "sip:+33699999999@ims.example.org", State: conference.StateConnected, Yourown: true},
		{Entity: bobURI, State: conference.StateConnected},
		{Entity: "not a uri", State: conference.StateConnected},
	}})
	assert.Equal(t, Roster{"+33622222222": ParticipantConnected}, s.Participants())
}
