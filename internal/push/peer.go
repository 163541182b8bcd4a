// Package push resolves notification targets from session keys, stores
// browser push subscriptions and fans notifications out to them.
package push

import (
	"errors"
	"strings"
)

var (
	// ErrNoPeer is returned when a session key is not a DM key for the
	// configured agent.
	ErrNoPeer = errors.New("session key has no peer")
	// ErrForbidden is returned when a user tries to act on a peer they
	// do not own.
	ErrForbidden = errors.New("peer not owned by user")
)

// ParsePeerID extracts the peer from a key of the form
// agent:<agentID>:webchat:dm:<peer...>. Peers may themselves contain
// colons.
func ParsePeerID(sessionKey, agentID string) (string, bool) {
	parts := strings.Split(sessionKey, ":")
	if len(parts) < 5 {
		return "", false
	}
	if parts[0] != "agent" || parts[1] != agentID || parts[2] != "webchat" || parts[3] != "dm" {
		return "", false
	}
	peer := strings.Join(parts[4:], ":")
	if peer == "" {
		return "", false
	}
	return peer, true
}

// Authorize checks that peerID belongs to userID.
func Authorize(userID, peerID string) error {
	if userID == "" || !strings.HasPrefix(peerID, userID) {
		return ErrForbidden
	}
	return nil
}
