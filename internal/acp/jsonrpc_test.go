package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_IsRequestNotNotificationOrResponse(t *testing.T) {
	id := json.RawMessage(`1`)
	e, err := NewRequest(id, "prompt", map[string]string{"session_id": "s1"})
	require.NoError(t, err)

	assert.True(t, e.IsRequest())
	assert.False(t, e.IsNotification())
	assert.False(t, e.IsResponse())
	assert.Equal(t, "prompt", e.Method)
	assert.JSONEq(t, `{"session_id":"s1"}`, string(e.Params))
}

func TestNewNotification_HasNoID(t *testing.T) {
	e, err := NewNotification("cancel", map[string]string{"session_id": "s1"})
	require.NoError(t, err)

	assert.False(t, e.IsRequest())
	assert.True(t, e.IsNotification())
	assert.False(t, e.IsResponse())
	assert.Nil(t, e.ID)
}

func TestNewResult_IsResponse(t *testing.T) {
	id := json.RawMessage(`"abc"`)
	e, err := NewResult(id, map[string]string{"stop_reason": "end_turn"})
	require.NoError(t, err)

	assert.False(t, e.IsRequest())
	assert.False(t, e.IsNotification())
	assert.True(t, e.IsResponse())
	assert.Nil(t, e.Error)
}

func TestNewError_IsResponseWithError(t *testing.T) {
	id := json.RawMessage(`2`)
	e := NewError(id, CodeMethodNotFound, "unknown method")

	assert.True(t, e.IsResponse())
	require.NotNil(t, e.Error)
	assert.Equal(t, CodeMethodNotFound, e.Error.Code)
	assert.Equal(t, "unknown method", e.Error.Message)
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	id := json.RawMessage(`7`)
	original, err := NewRequest(id, "new_session", map[string]string{"working_dir": "/tmp/w"})
	require.NoError(t, err)

	line, err := Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1], "Marshal must newline-terminate the line")

	// Strip the trailing newline before feeding it back to Unmarshal, which
	// parses one already-split line of the substrate.
	roundTripped, err := Unmarshal(line[:len(line)-1])
	require.NoError(t, err)

	assert.Equal(t, original.Method, roundTripped.Method)
	assert.JSONEq(t, string(original.Params), string(roundTripped.Params))
	assert.True(t, roundTripped.IsRequest())
}

func TestUnmarshal_InvalidJSON(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
