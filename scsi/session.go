package scsi

import (
	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// Unbound marks a session that has not yet found its target.
const Unbound = -1

// Capabilities are the protocol features the session may use.
type Capabilities struct {
	Identify   bool // IDENTIFY message after selection
	Tags       bool // SIMPLE QUEUE TAG messages
	Disconnect bool // disconnect privilege in IDENTIFY
	Sync       bool // synchronous transfer negotiation
}

// Session is the per-power-on state of the initiator.
type Session struct {
	hostID int
	target int
	caps   Capabilities
	tags   *TagTable
}

// NewSession creates a session for an initiator at hostID with every
// capability enabled and no target bound.
func NewSession(hostID int) *Session {
	return &Session{
		hostID: hostID,
		target: Unbound,
		caps:   Capabilities{Identify: true, Tags: true, Disconnect: true, Sync: true},
		tags:   NewTagTable(),
	}
}

// HostID returns the initiator's bus ID.
func (s *Session) HostID() int {
	return s.hostID
}

// HostMask returns the initiator's data-bus bit.
func (s *Session) HostMask() uint8 {
	return bus.IDMask(s.hostID)
}

// Target returns the bound target ID, or [Unbound].
func (s *Session) Target() int {
	return s.target
}

// Bound reports whether a target has been found.
func (s *Session) Bound() bool {
	return s.target != Unbound
}

// Bind records the target that answered discovery.
func (s *Session) Bind(id int) {
	s.target = id
}

// Capabilities returns the current capabilities.
func (s *Session) Capabilities() Capabilities {
	return s.caps
}

// Tags returns the tag table.
func (s *Session) Tags() *TagTable {
	return s.tags
}

// DisableIdentify stops sending IDENTIFY for the rest of the session.
func (s *Session) DisableIdentify() {
	if s.caps.Identify {
		pkg.LogInfo(pkg.ComponentMessage, "identify disabled", "target", s.target)
	}
	s.caps.Identify = false
}

// DisableTags stops sending queue tags for the rest of the session.
func (s *Session) DisableTags() {
	if s.caps.Tags {
		pkg.LogInfo(pkg.ComponentMessage, "tagged queuing disabled", "target", s.target)
	}
	s.caps.Tags = false
}

// DisableDisconnect stops granting disconnect privilege.
func (s *Session) DisableDisconnect() {
	if s.caps.Disconnect {
		pkg.LogInfo(pkg.ComponentMessage, "disconnect disabled", "target", s.target)
	}
	s.caps.Disconnect = false
}

// Reset forgets every command in flight. The bound target and capabilities
// survive; only a new session restores them.
func (s *Session) Reset() {
	s.tags.Reset()
}
