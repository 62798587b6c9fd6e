package media

// Setup is the RFC 4145 connection setup attribute.
type Setup string

const (
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
	SetupActpass Setup = "actpass"
)

// OfferSetup returns the role proposed in an offer. Behind a NAT the local
// side must connect out, so it proposes active.
func OfferSetup(behindNAT bool) Setup {
	if behindNAT {
		return SetupActive
	}
	return SetupActpass
}

// AnswerSetup returns the local role for a remote offer.
func AnswerSetup(remote Setup) Setup {
	switch remote {
	case SetupActpass, SetupPassive:
		return SetupActive
	case SetupActive:
		return SetupPassive
	default:
		return SetupPassive
	}
}

// ResolveOfferer returns the role of the offerer once the answer is known.
func ResolveOfferer(offered, answered Setup) Setup {
	switch answered {
	case SetupActive:
		return SetupPassive
	case SetupPassive:
		return SetupActive
	}
	if offered == SetupActive {
		return SetupActive
	}
	return SetupPassive
}

// LocalPort returns the port to advertise for role: the discard port when
// connecting out, the listening port otherwise.
func LocalPort(role Setup, listening int) int {
	if role == SetupActive {
		return DiscardPort
	}
	return listening
}
