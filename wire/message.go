// Package wire implements C3: the JSON-RPC message model shared by every
// transport, the event<->message codec, and gift-wrap encryption. The
// message type is hand-rolled around sourcegraph/jsonrpc2's ID type rather
// than bound to an opinionated MCP SDK request/response type (see DESIGN.md):
// the server transport's id-overloading trick (C6) needs an id that can be
// either the caller's original JSON number or a hex Nostr event id string,
// and jsonrpc2.ID's Num/Str/IsString shape supports both without us having to
// invent one.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
)

// Kind distinguishes the three JSON-RPC message shapes the spec's MCP
// message type must carry: a request (has method and id), a notification
// (has method, no id), and a response (has id and either result or error).
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

// MaxContentBytes bounds the serialized size of any single message this
// module will encode or decode, per the resource bounds in SPEC_FULL.md §4.3.
const MaxContentBytes = 1 << 20 // 1 MiB

// ErrTooLarge is returned by Marshal/Unmarshal (and so by Encode) when a
// message's serialized form exceeds MaxContentBytes. Decode reports an
// oversized event as ErrInvalidEvent.
var ErrTooLarge = fmt.Errorf("wire: message exceeds %d bytes", MaxContentBytes)

// Message is this module's single in-memory representation of an MCP
// JSON-RPC message, spanning all three Kinds so that transports can pass one
// type around instead of three.
type Message struct {
	Kind   Kind
	ID     jsonrpc2.ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *jsonrpc2.Error
}

// NewRequest builds a request message with the given JSON-RPC id.
func NewRequest(id jsonrpc2.ID, method string, params json.RawMessage) Message {
	return Message{Kind: KindRequest, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification message; notifications never carry
// an id per the MCP/JSON-RPC wire format.
func NewNotification(method string, params json.RawMessage) Message {
	return Message{Kind: KindNotification, Method: method, Params: params}
}

// NewResult builds a successful response for the given id.
func NewResult(id jsonrpc2.ID, result json.RawMessage) Message {
	return Message{Kind: KindResponse, ID: id, Result: result}
}

// NewError builds an error response for the given id.
func NewError(id jsonrpc2.ID, rpcErr *jsonrpc2.Error) Message {
	return Message{Kind: KindResponse, ID: id, Error: rpcErr}
}

// IsRequest reports whether this message expects a correlated response.
func (m Message) IsRequest() bool { return m.Kind == KindRequest }

// StringID builds a jsonrpc2.ID carrying a string, used by the server
// transport to overload a remote request's id with the wrapping Nostr event
// id (a hex string) before handing the request to the local MCP server.
func StringID(s string) jsonrpc2.ID { return jsonrpc2.ID{Str: s, IsString: true} }

// wireEnvelope is the literal JSON-RPC 2.0 shape on the wire; it is decoded
// once and then classified into a Message by inspecting which fields are
// present, the same "method present => request-or-notification, otherwise
// response" rule any JSON-RPC implementation uses.
type wireEnvelope struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *jsonrpc2.ID     `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *jsonrpc2.Error  `json:"error,omitempty"`
}

// Marshal serializes a Message to its wire JSON-RPC 2.0 form, enforcing the
// size bound before it ever reaches the codec's event-construction step.
func Marshal(m Message) ([]byte, error) {
	env := wireEnvelope{JSONRPC: "2.0", Method: m.Method, Params: m.Params}
	switch m.Kind {
	case KindRequest:
		env.ID = &m.ID
	case KindNotification:
		// no id
	case KindResponse:
		env.ID = &m.ID
		env.Result = m.Result
		env.Error = m.Error
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	if len(data) > MaxContentBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Unmarshal parses a wire JSON-RPC 2.0 payload into a Message.
func Unmarshal(data []byte) (Message, error) {
	if len(data) > MaxContentBytes {
		return Message{}, ErrTooLarge
	}
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("wire: unmarshal: %w", err)
	}
	m := Message{Method: env.Method, Params: env.Params, Result: env.Result, Error: env.Error}
	switch {
	case env.Method != "" && env.ID == nil:
		m.Kind = KindNotification
	case env.Method != "" && env.ID != nil:
		m.Kind = KindRequest
		m.ID = *env.ID
	case env.ID != nil:
		m.Kind = KindResponse
		m.ID = *env.ID
	default:
		return Message{}, fmt.Errorf("wire: message has neither method nor id")
	}
	return m, nil
}
