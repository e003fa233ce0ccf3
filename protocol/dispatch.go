package protocol

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/plugdev/plugdev"
)

// Method names served by the dispatcher.
const (
	MethodPing             = "ping"
	MethodGetParameter     = "get_parameter"
	MethodSetParameter     = "set_parameter"
	MethodGetAllParameters = "get_all_parameters"
	MethodGetProcessors    = "get_processors"
	MethodGetMeterFrame    = "get_meter_frame"
	MethodGetOscFrame      = "get_oscilloscope_frame"
	MethodGetAudioStatus   = "get_audio_status"
	MethodRequestResize    = "request_resize"
)

// Notification method names pushed by the session.
const (
	NotifyParameterChanged   = "parameter_changed"
	NotifyParametersReplaced = "parameters_replaced"
	NotifyAudioStatusChanged = "audio_status_changed"
	NotifyMeterUpdate        = "meter_update"
	NotifyStatusChanged      = "status_changed"
)

// Dispatcher routes requests by method name to calls on a Host. It is
// stateless; one dispatcher serves every connection.
type Dispatcher struct {
	host plugdev.Host
}

func NewDispatcher(host plugdev.Host) *Dispatcher {
	return &Dispatcher{host: host}
}

// DispatchRaw handles one raw inbound message and returns the bytes of
// exactly one response for requests, or nil for inbound notifications. A
// message that does not parse yields an error response bound to the null
// sentinel id instead of dropping the connection.
func (d *Dispatcher) DispatchRaw(raw []byte) []byte {
	env, err := Decode(raw)
	if err != nil {
		return mustEncode(NewErrorResponse(NullID, CodeParseError, err.Error()))
	}
	switch {
	case env.Request != nil:
		return mustEncode(d.Dispatch(*env.Request))
	case env.Notification != nil:
		// peers only send requests; an inbound notification is tolerated and
		// ignored rather than answered
		return nil
	}
	return mustEncode(NewErrorResponse(NullID, CodeInvalidRequest, "expected a request"))
}

// Dispatch handles one decoded request.
func (d *Dispatcher) Dispatch(req Request) Response {
	switch req.Method {
	case MethodPing:
		return d.result(req.ID, "pong")

	case MethodGetParameter:
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, err.Error())
		}
		info, ok := d.host.Parameter(p.ID)
		if !ok {
			return NewErrorResponse(req.ID, CodeParamNotFound, fmt.Sprintf("unknown parameter %q", p.ID))
		}
		return d.result(req.ID, info)

	case MethodSetParameter:
		var p struct {
			ID    string   `json:"id"`
			Value *float32 `json:"value"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, err.Error())
		}
		if p.Value == nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, "missing field: value")
		}
		if err := d.host.SetParameter(p.ID, *p.Value); err != nil {
			return setParameterError(req.ID, p.ID, *p.Value, err)
		}
		return d.result(req.ID, map[string]any{"id": p.ID, "value": *p.Value})

	case MethodGetAllParameters:
		return d.result(req.ID, d.host.Parameters())

	case MethodGetProcessors:
		return d.result(req.ID, d.host.Processors())

	case MethodGetMeterFrame:
		frame, ok := d.host.MeterFrame()
		if !ok {
			return d.result(req.ID, nil)
		}
		return d.result(req.ID, frame)

	case MethodGetOscFrame:
		frame, ok := d.host.OscFrame()
		if !ok {
			return d.result(req.ID, nil)
		}
		return d.result(req.ID, frame)

	case MethodGetAudioStatus:
		return d.result(req.ID, d.host.AudioStatus())

	case MethodRequestResize:
		var p struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, err.Error())
		}
		if p.Width <= 0 || p.Height <= 0 {
			return NewErrorResponse(req.ID, CodeInvalidParams, "width and height must be positive")
		}
		accepted := d.host.RequestResize(p.Width, p.Height)
		return d.result(req.ID, map[string]bool{"accepted": accepted})
	}
	return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
}

func (d *Dispatcher) result(id RawID, result any) Response {
	resp, err := NewResponse(id, result)
	if err != nil {
		return NewErrorResponse(id, CodeInternal, err.Error())
	}
	return resp
}

func setParameterError(id RawID, paramID string, value float32, err error) Response {
	switch {
	case errors.Is(err, plugdev.ErrParamNotFound):
		return NewErrorResponse(id, CodeParamNotFound, fmt.Sprintf("unknown parameter %q", paramID))
	case errors.Is(err, plugdev.ErrParamOutOfRange):
		return NewErrorResponse(id, CodeParamOutOfRange, fmt.Sprintf("value %v for %q outside [0,1]", value, paramID))
	}
	return NewErrorResponse(id, CodeInternal, "set_parameter failed")
}

func unmarshalParams(raw jsoniter.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("missing params")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid params: %v", err)
	}
	return nil
}

func mustEncode(resp Response) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		// a response we built ourselves always marshals; this is unreachable
		// short of memory corruption
		return []byte(`{"id":null,"error":{"code":-32603,"message":"encoding failure"}}`)
	}
	return raw
}

// Notification constructors used by the session.

func ParameterChangedNotification(p plugdev.ParameterInfo) Notification {
	return Notification{Method: NotifyParameterChanged, Params: p}
}

func ParametersReplacedNotification(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo) Notification {
	return Notification{Method: NotifyParametersReplaced, Params: map[string]any{
		"params":     params,
		"processors": procs,
	}}
}

func AudioStatusNotification(st plugdev.AudioStatus) Notification {
	return Notification{Method: NotifyAudioStatusChanged, Params: st}
}

func MeterNotification(frame plugdev.MeterFrame) Notification {
	return Notification{Method: NotifyMeterUpdate, Params: frame}
}

func StatusNotification(status any) Notification {
	return Notification{Method: NotifyStatusChanged, Params: status}
}
