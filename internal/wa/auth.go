package wa

import (
	"context"

	"github.com/matheus3301/wpp-archive/internal/bus"
	"go.mau.fi/whatsmeow"
)

// PairEventType enumerates pairing event types.
type PairEventType string

const (
	PairEventCode    PairEventType = "code"
	PairEventPaired  PairEventType = "paired"
	PairEventFailed  PairEventType = "failed"
	PairEventTimeout PairEventType = "timeout"
)

// PairEvent is one step of the QR pairing flow.
type PairEvent struct {
	Type    PairEventType `json:"type"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Done reports whether the event ends the flow.
func (e PairEvent) Done() bool {
	return e.Type != PairEventCode
}

// StartQRAuth begins the QR pairing flow. Events are sent on the returned
// channel, which closes when the flow ends, and published on the bus.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan PairEvent, error) {
	qrChan, err := a.qrChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan PairEvent, 10)
	go func() {
		defer close(out)
		emit := func(evt PairEvent) bool {
			a.bus.Emit(bus.KindPairing, evt)
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// The QR channel must exist before connecting.
		if err := a.connect(); err != nil {
			emit(PairEvent{Type: PairEventFailed, Message: err.Error()})
			return
		}

		for item := range qrChan {
			if evt, ok := pairEvent(item); ok {
				if !emit(evt) || evt.Done() {
					return
				}
			}
		}
	}()

	return out, nil
}

func pairEvent(item whatsmeow.QRChannelItem) (PairEvent, bool) {
	switch item.Event {
	case "code":
		return PairEvent{Type: PairEventCode, Code: item.Code}, true
	case "success":
		return PairEvent{Type: PairEventPaired, Message: "paired"}, true
	case "timeout":
		return PairEvent{Type: PairEventTimeout, Message: "QR code timeout"}, true
	}
	if item.Error != nil {
		return PairEvent{Type: PairEventFailed, Message: item.Error.Error()}, true
	}
	return PairEvent{}, false
}
