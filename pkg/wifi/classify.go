package wifi

import "strings"

// AssociationEvent is the classification of one line of supplicant output
type AssociationEvent int

const (
	// EventNone is a line with no bearing on the attempt outcome
	EventNone AssociationEvent = iota
	// EventConnected indicates the supplicant reported a completed connection
	EventConnected
	// EventAuthFailure indicates the network rejected our credentials
	EventAuthFailure
)

func (e AssociationEvent) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventAuthFailure:
		return "auth-failure"
	}
	return "none"
}

// successMarkers are supplicant messages that indicate a completed association
var successMarkers = []string{
	"CTRL-EVENT-CONNECTED",
	"Key negotiation completed",
}

// authMarkers are supplicant messages that indicate credential rejection.
// Any of these ends the attempt immediately: a rejected secret is never
// retried, and never reaches the DHCP stage.
var authMarkers = []string{
	"WRONG_KEY",
	"4-Way Handshake failed",
	"4WAY_HANDSHAKE_FAILED",
	"HANDSHAKE_FAILED",
	"CTRL-EVENT-ASSOC-REJECT",
	"CTRL-EVENT-AUTH-REJECT",
	"AUTHENTICATION_FAILED",
	"pre-shared key may be incorrect",
}

// classify maps one line of supplicant output to an association event.
// Auth markers win over success markers when both appear on a line.
//
// CTRL-EVENT-DISCONNECTED alone is ambiguous (roaming, AP restart) and
// classifies as EventNone; with reason=15 it is the AP reporting a 4-way
// handshake timeout, which in practice means a wrong key.
// CTRL-EVENT-SSID-TEMP-DISABLED counts only with reason=WRONG_KEY, which
// the plain WRONG_KEY marker already matches.
func classify(line string) AssociationEvent {
	for _, marker := range authMarkers {
		if strings.Contains(line, marker) {
			return EventAuthFailure
		}
	}
	if strings.Contains(line, "CTRL-EVENT-DISCONNECTED") && strings.Contains(line, "reason=15") {
		return EventAuthFailure
	}
	for _, marker := range successMarkers {
		if strings.Contains(line, marker) {
			return EventConnected
		}
	}
	return EventNone
}

// scanLines classifies a batch of lines, returning the strongest event and
// the line that produced it. Auth failure short-circuits.
func scanLines(lines []string) (AssociationEvent, string) {
	result := EventNone
	resultLine := ""
	for _, line := range lines {
		switch classify(line) {
		case EventAuthFailure:
			return EventAuthFailure, strings.TrimSpace(line)
		case EventConnected:
			if result == EventNone {
				result = EventConnected
				resultLine = strings.TrimSpace(line)
			}
		}
	}
	return result, resultLine
}
