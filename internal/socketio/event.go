package socketio

import (
	"encoding/json"
	"fmt"
)

// Payload is one event argument: either JSON text or a binary attachment.
type Payload struct {
	Text   json.RawMessage
	Binary []byte
}

// IsBinary reports whether the argument arrived as a binary attachment.
func (p Payload) IsBinary() bool {
	return p.Binary != nil
}

func (p Payload) String() string {
	if p.IsBinary() {
		return fmt.Sprintf("<%d bytes>", len(p.Binary))
	}
	return string(p.Text)
}

// Event is one inbound event on a namespace.
type Event struct {
	Namespace string
	Name      string
	Args      []Payload
}

// Handler receives events registered under a name.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// AckFunc receives the arguments the server passed to its acknowledgement.
type AckFunc func(args []Payload)

// Handlers maps event names to their handler.
type Handlers map[string]Handler

// On registers h under name, replacing any previous handler.
func (hs Handlers) On(name string, h Handler) Handlers {
	hs[name] = h
	return hs
}
