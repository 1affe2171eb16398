package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundEnvelopeParsesSubscribe(t *testing.T) {
	var msg inboundEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"subscribe","channels":["user:u1:updates"]}`), &msg))
	assert.Equal(t, inboundSubscribe, msg.Type)
	assert.Equal(t, []string{"user:u1:updates"}, msg.Channels)
}

func TestInboundEnvelopeParsesPingWithID(t *testing.T) {
	var msg inboundEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ping","id":"abc"}`), &msg))
	assert.Equal(t, inboundPing, msg.Type)
	require.NotNil(t, msg.ID)
	assert.Equal(t, "abc", *msg.ID)
}

func TestInboundEnvelopeUnknownTypeFallsThrough(t *testing.T) {
	var msg inboundEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"whatever"}`), &msg))
	assert.NotEqual(t, inboundSubscribe, msg.Type)
	assert.NotEqual(t, inboundUnsubscribe, msg.Type)
	assert.NotEqual(t, inboundPing, msg.Type)
}

func TestAckFrameOmitsUnsetFields(t *testing.T) {
	frame := ackFrame{Type: "ack", Action: "subscribe", Channels: []string{"a"}, Accepted: []string{"a"}}
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "removed")
	assert.NotContains(t, string(b), "missing")
}
