package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Response(t *testing.T) {
	f, err := ParseFrame([]byte(`{"id":"r1","ok":true,"payload":{"status":"started"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, f.Kind)
	assert.Equal(t, "r1", f.Response.ID)
	assert.True(t, f.Response.OK)
	assert.JSONEq(t, `{"status":"started"}`, string(f.Response.Payload))
	assert.Nil(t, f.Event)
}

func TestParseFrame_ErrorResponse(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"res","id":"r2","ok":false,"error":{"message":"unauthorized","code":"AUTH"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, f.Kind)
	assert.False(t, f.Response.OK)
	assert.Equal(t, "unauthorized", f.Response.ErrorMessage())
	assert.Equal(t, "AUTH", f.Response.Error.Code)
}

func TestParseFrame_Event(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"event","event":"agent","seq":7,"params":{"type":"text","text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindEvent, f.Kind)
	assert.Equal(t, "agent", f.Event.Event)
	assert.Equal(t, int64(7), f.Event.Seq)
	assert.JSONEq(t, `{"type":"text","text":"hi"}`, string(f.Event.Params))
}

func TestParseFrame_Unknown(t *testing.T) {
	cases := []string{
		`{"hello":"world"}`,
		`{"type":"event","seq":1}`,
		`{"id":"x"}`,
		`{"id":5,"ok":true}`,
		`{"ok":true}`,
	}
	for _, in := range cases {
		f, err := ParseFrame([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, KindUnknown, f.Kind, in)
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`[1,2,3]`,
		`"text"`,
		`{"type":"event","event":"agent","seq":"nope"}`,
	}
	for _, in := range cases {
		_, err := ParseFrame([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedFrame, in)
	}
}

func TestNewRequest_Marshal(t *testing.T) {
	req := NewRequest("abc", MethodChatSend, ChatSendParams{SessionKey: "s", Message: "m", IdempotencyKey: "k"})
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"req","id":"abc","method":"chat.send","params":{"sessionKey":"s","message":"m","idempotencyKey":"k","deliver":false}}`, string(data))
}

func TestFrameKind_String(t *testing.T) {
	assert.Equal(t, "response", KindResponse.String())
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
