package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopes(t *testing.T) {
	t.Run("response", func(t *testing.T) {
		m, err := NewResponse("req-1", ActionPing, map[string]string{"status": "ok"})
		require.NoError(t, err)
		assert.Equal(t, "req-1", m.ID)
		assert.Equal(t, MessageTypeResponse, m.Type)
		assert.Equal(t, ActionPing, m.Action)
		assert.False(t, m.Timestamp.IsZero())

		var payload map[string]string
		require.NoError(t, m.ParsePayload(&payload))
		assert.Equal(t, "ok", payload["status"])
	})

	t.Run("notification has no id", func(t *testing.T) {
		m, err := NewNotification(EventBuildStatus, map[string]interface{}{"status": "succeeded"})
		require.NoError(t, err)
		assert.Empty(t, m.ID)
		assert.Equal(t, MessageTypeNotification, m.Type)
	})

	t.Run("error carries a coded payload", func(t *testing.T) {
		m, err := NewError("req-2", "user_message", ErrorCodeValidation, "project_id is required", map[string]interface{}{
			"field": "project_id",
		})
		require.NoError(t, err)
		assert.Equal(t, MessageTypeError, m.Type)

		var payload ErrorPayload
		require.NoError(t, m.ParsePayload(&payload))
		assert.Equal(t, ErrorCodeValidation, payload.Code)
		assert.Equal(t, "project_id is required", payload.Message)
		assert.Equal(t, "project_id", payload.Details["field"])
	})
}

func TestParsePayload(t *testing.T) {
	t.Run("nil payload is a no-op", func(t *testing.T) {
		m := &Message{}
		var out map[string]interface{}
		require.NoError(t, m.ParsePayload(&out))
		assert.Nil(t, out)
	})

	t.Run("invalid json errors", func(t *testing.T) {
		m := &Message{Payload: json.RawMessage(`{broken`)}
		var out map[string]interface{}
		assert.Error(t, m.ParsePayload(&out))
	})
}

func TestMessageRoundTrip(t *testing.T) {
	raw := []byte(`{"id":"abc","type":"request","action":"project.subscribe","payload":{"project_id":"p1"}}`)
	var m Message
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, MessageTypeRequest, m.Type)
	assert.Equal(t, ActionSubscribe, m.Action)

	var payload struct {
		ProjectID string `json:"project_id"`
	}
	require.NoError(t, m.ParsePayload(&payload))
	assert.Equal(t, "p1", payload.ProjectID)
}
