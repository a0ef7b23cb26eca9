package platform

import (
	"encoding/json"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// Envelope is the JSON body used by the raw-payload protocols (WNS raw
// notifications, MQTT publishes). Field devices parse this shape directly.
type Envelope struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority notify.Priority   `json:"priority,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// EncodeEnvelope serializes the payload into the shared device envelope.
func EncodeEnvelope(p *notify.Payload) ([]byte, error) {
	return json.Marshal(Envelope{
		Title:    p.Title,
		Body:     p.Body,
		Priority: p.Priority,
		Data:     p.DataStrings(),
	})
}
