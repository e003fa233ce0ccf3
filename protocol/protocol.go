// Package protocol defines the wire protocol between the dev session and its
// control surfaces: a typed request/response/notification envelope and the
// fixed numeric error taxonomy. Internal error types never cross the wire;
// everything is rendered to a code and a message at this boundary.
package protocol

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fixed error codes. The negative ones follow the JSON-RPC convention the
// control surface already speaks; the positive ones are domain errors.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternal        = -32603
	CodeParamNotFound   = 1001
	CodeParamOutOfRange = 1002
)

// RawID is a request id kept in its original wire form, so a numeric id and
// a string id stay distinct representations through a round trip.
type RawID = jsoniter.RawMessage

// NullID is the sentinel id bound to error responses for messages whose real
// id could not be recovered (parse failures).
var NullID = RawID("null")

type (
	// Request is a call expecting exactly one Response with the same id.
	Request struct {
		ID     RawID               `json:"id"`
		Method string              `json:"method"`
		Params jsoniter.RawMessage `json:"params,omitempty"`
	}

	// Response carries either a result or an error, never both.
	Response struct {
		ID     RawID               `json:"id"`
		Result jsoniter.RawMessage `json:"result,omitempty"`
		Error  *Error              `json:"error,omitempty"`
	}

	// Notification is fire-and-forget; it has no id and gets no response.
	Notification struct {
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}

	// Error is the wire form of every failure.
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Envelope is the decoded form of one inbound or outbound message. Exactly
// one of Request, Response, Notification is non-nil.
type Envelope struct {
	Request      *Request
	Response     *Response
	Notification *Notification
}

// Decode classifies a raw message: a method with an id is a request, a
// method without an id is a notification, no method means a response.
func Decode(raw []byte) (Envelope, error) {
	var probe struct {
		ID     RawID               `json:"id"`
		Method string              `json:"method"`
		Params jsoniter.RawMessage `json:"params"`
		Result jsoniter.RawMessage `json:"result"`
		Error  *Error              `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	switch {
	case probe.Method != "" && hasID(probe.ID):
		return Envelope{Request: &Request{ID: probe.ID, Method: probe.Method, Params: probe.Params}}, nil
	case probe.Method != "":
		return Envelope{Notification: &Notification{Method: probe.Method, Params: rawOrNil(probe.Params)}}, nil
	case probe.Result != nil || probe.Error != nil:
		return Envelope{Response: &Response{ID: probe.ID, Result: probe.Result, Error: probe.Error}}, nil
	}
	return Envelope{}, fmt.Errorf("envelope is neither request, response nor notification")
}

// Encode renders the envelope back to its wire form.
func (e Envelope) Encode() ([]byte, error) {
	switch {
	case e.Request != nil:
		return json.Marshal(e.Request)
	case e.Response != nil:
		return json.Marshal(e.Response)
	case e.Notification != nil:
		return json.Marshal(e.Notification)
	}
	return nil, fmt.Errorf("empty envelope")
}

func hasID(id RawID) bool {
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

func rawOrNil(raw jsoniter.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// NewResponse builds a success response; the result must be marshalable.
func NewResponse(id RawID, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling result failed: %w", err)
	}
	return Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response with one of the fixed codes.
func NewErrorResponse(id RawID, code int, message string) Response {
	if id == nil {
		id = NullID
	}
	return Response{ID: id, Error: &Error{Code: code, Message: message}}
}
