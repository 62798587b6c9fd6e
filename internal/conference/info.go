// Package conference follows a group chat focus through the conference
// event package (RFC 4575): it keeps a SUBSCRIBE alive and decodes the
// conference-info documents delivered by NOTIFY.
package conference

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// MimeType of a conference-info document.
const MimeType = "application/conference-info+xml"

// User and endpoint states of RFC 4575 plus the RCS extensions.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateDeparted     = "departed"
	StateBooted       = "booted"
	StateFailed       = "failed"
	StateBusy         = "busy"
	StateDeclined     = "declined"
	StatePending      = "pending"
	StateDialingIn    = "dialing-in"
	StateDialingOut   = "dialing-out"
	StatePendingIn    = "pending-in"
	StatePendingOut   = "pending-out"
)

// User is one roster entry of a notification.
type User struct {
	Entity              string
	DisplayText         string
	State               string
	DisconnectionMethod string
	FailureReason       string
	Yourown             bool
}

// Info is a decoded conference-info document.
type Info struct {
	Entity       string
	State        string
	Version      int
	MaxUserCount int
	Users        []User
}

type endpointXML struct {
	Entity              string `xml:"entity,attr"`
	Status              string `xml:"status"`
	DisconnectionMethod string `xml:"disconnection-method"`
	DisconnectionInfo   struct {
		Reason string `xml:"reason"`
	} `xml:"disconnection-info"`
}

type userXML struct {
	Entity      string        `xml:"entity,attr"`
	State       string        `xml:"state,attr"`
	Yourown     string        `xml:"yourown,attr"`
	DisplayText string        `xml:"display-text"`
	Endpoints   []endpointXML `xml:"endpoint"`
}

type infoXML struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:conference-info conference-info"`
	Entity      string   `xml:"entity,attr"`
	State       string   `xml:"state,attr"`
	Version     string   `xml:"version,attr"`
	Description struct {
		MaxUserCount string `xml:"maximum-user-count"`
	} `xml:"conference-description"`
	Users []userXML `xml:"users>user"`
}

// Parse decodes a conference-info document. A user's state is taken from
// its first endpoint's status.
func Parse(data []byte) (*Info, error) {
	var doc infoXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("conference-info: %w", err)
	}
	info := &Info{Entity: doc.Entity, State: doc.State}
	if v, err := strconv.Atoi(strings.TrimSpace(doc.Version)); err == nil {
		info.Version = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(doc.Description.MaxUserCount)); err == nil {
		info.MaxUserCount = v
	}
	for _, u := range doc.Users {
		user := User{
			Entity:      strings.TrimSpace(u.Entity),
			DisplayText: strings.TrimSpace(u.DisplayText),
			Yourown:     strings.EqualFold(u.Yourown, "true"),
		}
		if len(u.Endpoints) > 0 {
			ep := u.Endpoints[0]
			user.State = strings.ToLower(strings.TrimSpace(ep.Status))
			user.DisconnectionMethod = strings.ToLower(strings.TrimSpace(ep.DisconnectionMethod))
			user.FailureReason = strings.TrimSpace(ep.DisconnectionInfo.Reason)
		}
		info.Users = append(info.Users, user)
	}
	return info, nil
}
