// Package media negotiates the MSRP media line of chat sessions: SDP
// offers and answers, the RFC 4145 connection setup role and the multipart
// bodies that carry an SDP next to a first message or a roster.
package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// MimeType of an SDP body.
const MimeType = "application/sdp"

// DiscardPort is advertised when the local side connects out (RFC 4975).
const DiscardPort = 9

const (
	mediaMessage = "message"
	ntpEpochDiff = 2208988800
)

var (
	// ErrNoMedia is returned when an SDP carries no MSRP media line.
	ErrNoMedia = errors.New("media: no msrp media line")
	// ErrNoPath is returned when the MSRP media line has no a=path.
	ErrNoPath = errors.New("media: missing a=path attribute")
)

// Description is the chat-relevant view of an SDP.
type Description struct {
	Host         string
	Port         int
	Path         string
	Setup        Setup
	AcceptTypes  []string
	WrappedTypes []string
	Secured      bool
	Fingerprint  string
	Direction    string
}

func protos(secured bool) []string {
	if secured {
		return []string{"TCP", "TLS", "MSRP"}
	}
	return []string{"TCP", "MSRP"}
}

func addrType(host string) string {
	if strings.Contains(host, ":") {
		return "IP6"
	}
	return "IP4"
}

// Marshal renders the description as a chat SDP.
func (d Description) Marshal() ([]byte, error) {
	ntp := uint64(time.Now().Unix()) + ntpEpochDiff
	conn := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addrType(d.Host),
		Address:     &sdp.Address{Address: d.Host},
	}
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   mediaMessage,
			Port:    sdp.RangedPort{Value: d.Port},
			Protos:  protos(d.Secured),
			Formats: []string{"*"},
		},
	}
	if len(d.AcceptTypes) > 0 {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("accept-types", strings.Join(d.AcceptTypes, " ")))
	}
	if len(d.WrappedTypes) > 0 {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("accept-wrapped-types", strings.Join(d.WrappedTypes, " ")))
	}
	if d.Setup != "" {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("setup", string(d.Setup)))
	}
	md.Attributes = append(md.Attributes, sdp.NewAttribute("path", d.Path))
	if d.Fingerprint != "" {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("fingerprint", d.Fingerprint))
	}
	dir := d.Direction
	if dir == "" {
		dir = "sendrecv"
	}
	md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute(dir))

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      ntp,
			SessionVersion: ntp,
			NetworkType:    "IN",
			AddressType:    addrType(d.Host),
			UnicastAddress: d.Host,
		},
		SessionName:           "-",
		ConnectionInformation: conn,
		TimeDescriptions:      []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions:     []*sdp.MediaDescription{md},
	}
	return desc.Marshal()
}

// Parse extracts the MSRP media line of an SDP. The setup role defaults to
// passive when the remote does not state one.
func Parse(raw []byte) (*Description, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("media: parse sdp: %w", err)
	}
	var md *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == mediaMessage {
			md = m
			break
		}
	}
	if md == nil {
		return nil, ErrNoMedia
	}
	d := &Description{
		Port:      md.MediaName.Port.Value,
		Setup:     SetupPassive,
		Direction: "sendrecv",
	}
	for _, p := range md.MediaName.Protos {
		if p == "TLS" {
			d.Secured = true
		}
	}
	conn := md.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn != nil && conn.Address != nil {
		d.Host = conn.Address.Address
	}
	path, ok := md.Attribute("path")
	if !ok || strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}
	// A path may list relays; the last hop is the remote endpoint.
	hops := strings.Fields(path)
	d.Path = hops[len(hops)-1]
	if v, ok := md.Attribute("setup"); ok && v != "" {
		d.Setup = Setup(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := md.Attribute("accept-types"); ok {
		d.AcceptTypes = strings.Fields(v)
	}
	if v, ok := md.Attribute("accept-wrapped-types"); ok {
		d.WrappedTypes = strings.Fields(v)
	}
	if v, ok := md.Attribute("fingerprint"); ok {
		d.Fingerprint = v
	} else if v, ok := desc.Attribute("fingerprint"); ok {
		d.Fingerprint = v
	}
	for _, dir := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
		if _, ok := md.Attribute(dir); ok {
			d.Direction = dir
		}
	}
	return d, nil
}

// Endpoint splits an msrp:// URL into host and port, used when the c= line
// is absent or points at a relay.
func Endpoint(path string) (host string, port int, err error) {
	rest, ok := strings.CutPrefix(path, "msrp://")
	if !ok {
		rest, ok = strings.CutPrefix(path, "msrps://")
	}
	if !ok {
		return "", 0, fmt.Errorf("media: not an msrp url %q", path)
	}
	authority, _, _ := strings.Cut(rest, "/")
	i := strings.LastIndexByte(authority, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("media: no port in %q", path)
	}
	port, err = strconv.Atoi(authority[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("media: bad port in %q", path)
	}
	return strings.Trim(authority[:i], "[]"), port, nil
}

// SupportsType reports whether mime is listed in types, honoring "*".
func SupportsType(types []string, mime string) bool {
	for _, t := range types {
		if t == "*" || strings.EqualFold(t, mime) {
			return true
		}
	}
	return false
}
