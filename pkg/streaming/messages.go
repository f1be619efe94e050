// Package streaming defines the JSON envelopes exchanged with a presentation shell.
package streaming

import (
	"encoding/json"

	"github.com/geoglobe/globe/pkg/core"
)

// Intent types sent by the shell.
const (
	TypeSelectMetric  = "selectMetric"
	TypeSetTimeWindow = "setTimeWindow"
	TypePointerMove   = "pointerMove"
	TypePointerClick  = "pointerClick"
	TypeToggleSpin    = "toggleSpin"
	TypeResetView     = "resetView"
	TypeDeselect      = "deselect"
	TypeSetDragging   = "setDragging"
	TypeResize        = "resize"
	TypeReload        = "reload"
)

// Event types sent to the shell.
const (
	TypeHover  = "hover"
	TypeSelect = "select"
	TypeStats  = "stats"
	TypeLegend = "legend"
	TypeNotice = "notice"
	TypeView   = "view"
	TypeError  = "error"
	TypeHello  = "hello"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

type SelectMetricPayload struct {
	Metric string `json:"metric"`
}

type SetTimeWindowPayload struct {
	Days int `json:"days"`
}

// PointerPayload carries normalized device coordinates in [-1, 1].
type PointerPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SetDraggingPayload struct {
	Dragging bool `json:"dragging"`
}

type ResizePayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EntityPayload is sent with hover and select events. Entity is nil when cleared.
type EntityPayload struct {
	Entity    *core.Entity `json:"entity"`
	Formatted string       `json:"formatted,omitempty"`
}

type StatsPayload struct {
	MetricID  string     `json:"metricId"`
	Stats     core.Stats `json:"stats"`
	Formatted struct {
		Avg string `json:"avg"`
		Max string `json:"max"`
	} `json:"formatted"`
}

// HelloPayload greets a new session.
type HelloPayload struct {
	Session string   `json:"session"`
	Metrics []string `json:"metrics"`
}

type ErrorPayload struct {
	For     string `json:"for"`
	Message string `json:"message"`
}
