package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/conference"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/cpim"
	"github.com/matheus3301/rcschat/internal/imdn"
	"github.com/matheus3301/rcschat/internal/media"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/resourcelist"
)

var (
	acceptTypes      = []string{cpim.MimeType, MimeText, MimeComposing}
	groupAcceptTypes = []string{cpim.MimeType, conference.MimeType}
	wrappedTypes     = []string{MimeText, MimeComposing, imdn.MimeType, MimeGeolocation, MimeFileTransfer}
)

func (s *Session) localDescription(setup media.Setup) (media.Description, error) {
	listening := media.DiscardPort
	if setup != media.SetupActive {
		p, err := s.transport.LocalPort()
		if err != nil {
			return media.Description{}, err
		}
		listening = p
	}
	accept := acceptTypes
	if s.kind == KindGroup {
		accept = groupAcceptTypes
	}
	return media.Description{
		Host:         s.dialog.LocalAddress(),
		Port:         media.LocalPort(setup, listening),
		Path:         s.transport.LocalPath(listening),
		Setup:        setup,
		AcceptTypes:  accept,
		WrappedTypes: wrappedTypes,
		Secured:      s.deps.Settings.Secured,
	}, nil
}

// buildOffer renders the INVITE body: the SDP alone, or wrapped with the
// first message (1-1) or the roster (group) in a multipart body.
func (s *Session) buildOffer(first *Message, invitees []contact.ID) (string, []byte, media.Setup, error) {
	setup := media.OfferSetup(s.deps.Settings.BehindNAT)
	desc, err := s.localDescription(setup)
	if err != nil {
		return "", nil, "", newError(CodeInitiationFailed, CauseTransport, "msrp listener", err)
	}
	sdp, err := desc.Marshal()
	if err != nil {
		return "", nil, "", newError(CodeInitiationFailed, CauseNegotiation, "build sdp", err)
	}
	parts := []media.Part{{ContentType: media.MimeType, Body: sdp}}
	if first != nil {
		parts = append(parts, media.Part{
			ContentType: cpim.MimeType,
			Body:        []byte(s.encodeMessage(first)),
		})
	}
	if len(invitees) > 0 {
		parts = append(parts, media.Part{
			ContentType: resourcelist.MimeType,
			Headers:     [][2]string{{"Content-Disposition", "recipient-list"}},
			Body:        []byte(resourcelist.Build(contactURIs(invitees))),
		})
	}
	if len(parts) == 1 {
		return media.MimeType, sdp, setup, nil
	}
	return media.MultipartContentType(media.Boundary), media.BuildMultipart(media.Boundary, parts...), setup, nil
}

// buildAnswer renders the SDP answering remote.
func (s *Session) buildAnswer(remote *media.Description) ([]byte, media.Setup, error) {
	setup := media.AnswerSetup(remote.Setup)
	desc, err := s.localDescription(setup)
	if err != nil {
		return nil, "", newError(CodeInitiationFailed, CauseTransport, "msrp listener", err)
	}
	sdp, err := desc.Marshal()
	if err != nil {
		return nil, "", newError(CodeInitiationFailed, CauseNegotiation, "build sdp", err)
	}
	return sdp, setup, nil
}

// parseBody splits a SIP body and decodes its SDP part.
func parseBody(contentType string, body []byte) (*media.Description, []media.Part, error) {
	if contentType == "" {
		contentType = media.MimeType
	}
	parts, err := media.SplitBody(contentType, body)
	if err != nil {
		return nil, nil, newError(CodeInitiationFailed, CauseParse, "body", err)
	}
	sdpPart, ok := media.FindPart(parts, media.MimeType)
	if !ok {
		return nil, parts, newError(CodeInitiationFailed, CauseNegotiation, "no sdp", media.ErrNoMedia)
	}
	desc, err := media.Parse(sdpPart.Body)
	if err != nil {
		return nil, parts, newError(CodeInitiationFailed, CauseNegotiation, "sdp", err)
	}
	return desc, parts, nil
}

// createChannel prepares the MSRP session for the negotiated local role.
// The session is registered before it is opened so Terminate can close it.
func (s *Session) createChannel(remote *media.Description, role media.Setup) (msrp.Session, error) {
	l := &listener{s: s}
	var (
		ch  msrp.Session
		err error
	)
	if role == media.SetupActive {
		host, port := remote.Host, remote.Port
		if h, p, perr := media.Endpoint(remote.Path); perr == nil && (host == "" || port == 0 || port == media.DiscardPort) {
			host, port = h, p
		}
		ch, err = s.transport.CreateClientSession(host, port, remote.Path, remote.Fingerprint, l)
	} else {
		ch, err = s.transport.CreateServerSession(remote.Path, l)
	}
	if err != nil {
		return nil, newError(CodeMediaFailed, CauseTransport, "create msrp session", err)
	}
	s.mu.Lock()
	if s.closing.Load() || s.state == StateTerminating || s.state == StateTerminated {
		s.mu.Unlock()
		_ = ch.Close()
		return nil, ErrInterrupted
	}
	s.channel = ch
	s.mu.Unlock()
	return ch, nil
}

// openChannel connects the MSRP session and sends the empty chunk that
// binds the connection to the session (RFC 4975 section 5.4).
func (s *Session) openChannel(ctx context.Context, ch msrp.Session) error {
	if err := ch.Open(ctx); err != nil {
		if s.interrupted.Load() {
			return ErrInterrupted
		}
		return newError(CodeMediaFailed, CauseTransport, "open msrp session", err)
	}
	if err := ch.SendEmptyChunk(); err != nil {
		if s.interrupted.Load() {
			return ErrInterrupted
		}
		return newError(CodeMediaFailed, CauseTransport, "empty chunk", err)
	}
	return nil
}

// established completes negotiation on both sides.
func (s *Session) established() error {
	if err := s.advance(StateEstablished); err != nil {
		return err
	}
	s.activity.Start(s.deps.Settings.InactivityTimeout)
	s.logger.Info("session established", zap.String("remote", string(s.Remote())))
	s.publish(bus.SessionStarted, s.sessionEvent())
	return nil
}

func describeResponse(code int, reason string) string {
	return fmt.Sprintf("%d %s", code, reason)
}
