package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/protocol"
)

type fakeHost struct {
	params map[string]plugdev.ParameterInfo
	meter  *plugdev.MeterFrame
	resize bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		params: map[string]plugdev.ParameterInfo{
			"gain": {ID: "gain", Name: "Gain", Value: 0.5, Default: 0.5},
		},
	}
}

func (h *fakeHost) Parameter(id string) (plugdev.ParameterInfo, bool) {
	p, ok := h.params[id]
	return p, ok
}

func (h *fakeHost) SetParameter(id string, v float32) error {
	p, ok := h.params[id]
	if !ok {
		return plugdev.ErrParamNotFound
	}
	if !plugdev.ValidNormalized(v) {
		return plugdev.ErrParamOutOfRange
	}
	p.Value = v
	h.params[id] = p
	return nil
}

func (h *fakeHost) Parameters() []plugdev.ParameterInfo {
	out := make([]plugdev.ParameterInfo, 0, len(h.params))
	for _, p := range h.params {
		out = append(out, p)
	}
	return out
}

func (h *fakeHost) Processors() []plugdev.ProcessorInfo {
	return []plugdev.ProcessorInfo{{ID: "osc"}}
}

func (h *fakeHost) MeterFrame() (plugdev.MeterFrame, bool) {
	if h.meter == nil {
		return plugdev.MeterFrame{}, false
	}
	return *h.meter, true
}

func (h *fakeHost) OscFrame() (plugdev.OscFrame, bool) { return plugdev.OscFrame{}, false }

func (h *fakeHost) AudioStatus() plugdev.AudioStatus {
	return plugdev.AudioStatus{Running: true, SampleRate: 48000, OutputChannels: 2, Backend: "test"}
}

func (h *fakeHost) RequestResize(w, hh int) bool { return h.resize }

func TestRoundTripRequestNumericID(t *testing.T) {
	raw := []byte(`{"id":7,"method":"ping"}`)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, env.Request)
	assert.Equal(t, "7", string(env.Request.ID))

	out, err := env.Encode()
	require.NoError(t, err)
	reenv, err := protocol.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "7", string(reenv.Request.ID))
}

func TestRoundTripRequestStringID(t *testing.T) {
	raw := []byte(`{"id":"req-1","method":"get_parameter","params":{"id":"gain"}}`)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, env.Request)
	assert.Equal(t, `"req-1"`, string(env.Request.ID))
	assert.Equal(t, "get_parameter", env.Request.Method)
}

func TestRoundTripNotification(t *testing.T) {
	n := protocol.MeterNotification(plugdev.MeterFrame{Seq: 3, LeftPeak: 0.5})
	out, err := protocol.Envelope{Notification: &n}.Encode()
	require.NoError(t, err)
	env, err := protocol.Decode(out)
	require.NoError(t, err)
	require.NotNil(t, env.Notification)
	assert.Equal(t, protocol.NotifyMeterUpdate, env.Notification.Method)
	assert.Nil(t, env.Request)
}

func TestRoundTripResponse(t *testing.T) {
	resp := protocol.NewErrorResponse(protocol.RawID(`"x"`), protocol.CodeMethodNotFound, "nope")
	out, err := protocol.Envelope{Response: &resp}.Encode()
	require.NoError(t, err)
	env, err := protocol.Decode(out)
	require.NoError(t, err)
	require.NotNil(t, env.Response)
	assert.Equal(t, protocol.CodeMethodNotFound, env.Response.Error.Code)
	assert.Equal(t, `"x"`, string(env.Response.ID))
}

func TestDispatchPing(t *testing.T) {
	d := protocol.NewDispatcher(newFakeHost())
	resp := d.Dispatch(protocol.Request{ID: protocol.RawID("1"), Method: protocol.MethodPing})
	require.Nil(t, resp.Error)
	assert.Equal(t, `"pong"`, string(resp.Result))
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := protocol.NewDispatcher(newFakeHost())
	resp := d.Dispatch(protocol.Request{ID: protocol.RawID("1"), Method: "frobnicate"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchSetParameter(t *testing.T) {
	h := newFakeHost()
	d := protocol.NewDispatcher(h)

	resp := d.Dispatch(protocol.Request{
		ID: protocol.RawID("1"), Method: protocol.MethodSetParameter,
		Params: []byte(`{"id":"gain","value":0.75}`),
	})
	require.Nil(t, resp.Error)
	assert.InDelta(t, 0.75, h.params["gain"].Value, 1e-6)

	resp = d.Dispatch(protocol.Request{
		ID: protocol.RawID("2"), Method: protocol.MethodSetParameter,
		Params: []byte(`{"id":"gain","value":1.5}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParamOutOfRange, resp.Error.Code)

	resp = d.Dispatch(protocol.Request{
		ID: protocol.RawID("3"), Method: protocol.MethodSetParameter,
		Params: []byte(`{"id":"ghost","value":0.5}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParamNotFound, resp.Error.Code)

	resp = d.Dispatch(protocol.Request{
		ID: protocol.RawID("4"), Method: protocol.MethodSetParameter,
		Params: []byte(`{"id":"gain"}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestDispatchInvalidParams(t *testing.T) {
	d := protocol.NewDispatcher(newFakeHost())
	resp := d.Dispatch(protocol.Request{
		ID: protocol.RawID("1"), Method: protocol.MethodGetParameter,
		Params: []byte(`"not an object"`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestDispatchRawParseError(t *testing.T) {
	d := protocol.NewDispatcher(newFakeHost())
	out := d.DispatchRaw([]byte(`{"id":`))
	require.NotNil(t, out)
	env, err := protocol.Decode(out)
	require.NoError(t, err)
	require.NotNil(t, env.Response)
	assert.Equal(t, protocol.CodeParseError, env.Response.Error.Code)
	assert.Equal(t, "null", string(env.Response.ID))
}

func TestDispatchRawInboundNotificationIgnored(t *testing.T) {
	d := protocol.NewDispatcher(newFakeHost())
	out := d.DispatchRaw([]byte(`{"method":"parameter_changed","params":{}}`))
	assert.Nil(t, out)
}

func TestDispatchMeterFrameAbsent(t *testing.T) {
	d := protocol.NewDispatcher(newFakeHost())
	resp := d.Dispatch(protocol.Request{ID: protocol.RawID("1"), Method: protocol.MethodGetMeterFrame})
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))
}

func TestDispatchResize(t *testing.T) {
	h := newFakeHost()
	h.resize = true
	d := protocol.NewDispatcher(h)
	resp := d.Dispatch(protocol.Request{
		ID: protocol.RawID("1"), Method: protocol.MethodRequestResize,
		Params: []byte(`{"width":800,"height":600}`),
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, `{"accepted":true}`, string(resp.Result))

	resp = d.Dispatch(protocol.Request{
		ID: protocol.RawID("2"), Method: protocol.MethodRequestResize,
		Params: []byte(`{"width":-1,"height":600}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}
