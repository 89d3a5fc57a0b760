// Package events contains the event contract definitions for WebSocket
// communication between the analytics service and its panels.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message.
type MessageType string

const (
	// MessageTypePanelRefresh tells attached panels that a shared
	// selection context mutated and derived data must be re-fetched.
	MessageTypePanelRefresh MessageType = "panel:refresh"

	// MessageTypeDataStatus carries race cache state changes.
	MessageTypeDataStatus MessageType = "data:status"

	// Lifecycle messages emitted by the hub itself.
	MessageTypeConnect    MessageType = "connect"
	MessageTypeDisconnect MessageType = "disconnect"
)

// BaseMessage is the common header of every WebSocket message.
type BaseMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Message is a complete WebSocket message with its payload.
type Message struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// PanelRefresh is the payload of a panel:refresh message. Panels lists
// every panel aliased to the mutated selection context; the reason names
// the mutation that triggered the refresh.
type PanelRefresh struct {
	Panels   []string `json:"panels"`
	Context  string   `json:"context"`
	Reason   string   `json:"reason"`
	Revision uint64   `json:"revision"`
}

// DataStatus is the payload of a data:status message.
type DataStatus struct {
	RaceID string `json:"race_id"`
	State  string `json:"state"` // cached|absent|failed
	Digest string `json:"digest,omitempty"`
}
