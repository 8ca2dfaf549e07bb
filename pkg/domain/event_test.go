package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterpartySessionID(t *testing.T) {
	assert.Equal(t, "s1-INITIATED", domain.CounterpartySessionID("s1"))
	assert.Equal(t, "s1", domain.CounterpartySessionID("s1-INITIATED"))
	assert.Equal(t, "s1", domain.CounterpartySessionID(domain.CounterpartySessionID("s1")))
	assert.True(t, domain.IsResponderSessionID("x-INITIATED"))
	assert.False(t, domain.IsResponderSessionID("x"))
}

func TestSessionEventJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := uint64(7)

	events := map[string]domain.SessionEvent{
		"init": {SessionID: "s1", Direction: domain.DirectionOutbound, Timestamp: now, SequenceNumber: &seq,
			Payload: domain.Init{FlowName: "pay", OriginatingContext: []byte{0, 1, 2}}},
		"data":  {SessionID: "s1", Direction: domain.DirectionInbound, Timestamp: now, SequenceNumber: &seq, Payload: domain.Data{Bytes: []byte("hi")}},
		"close": {SessionID: "s1", Timestamp: now, SequenceNumber: &seq, Payload: domain.Close{}},
		"error": {SessionID: "s1", Timestamp: now, SequenceNumber: &seq, Payload: domain.Error{Message: "boom"}},
		"ack":   {SessionID: "s1", Timestamp: now, Payload: domain.Ack{SequenceNumber: 3}},
	}
	for name, ev := range events {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(ev)
			require.NoError(t, err)

			var got domain.SessionEvent
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.True(t, ev.Equal(got), "round trip changed the event: %s", raw)
		})
	}

	t.Run("ack has no sequence number on the wire", func(t *testing.T) {
		raw, err := json.Marshal(events["ack"])
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(raw, &fields))
		assert.Equal(t, "ACK", fields["type"])
		assert.Nil(t, fields["sequence_number"])
	})
}

func TestSessionEventUnknownPayload(t *testing.T) {
	var ev domain.SessionEvent
	err := json.Unmarshal([]byte(`{"session_id":"s1","type":"PING","payload":{}}`), &ev)
	assert.ErrorIs(t, err, domain.ErrUnknownPayload)
}

func TestSessionEventCloneIsIndependent(t *testing.T) {
	seq := uint64(1)
	ev := domain.SessionEvent{SessionID: "s1", SequenceNumber: &seq, Payload: domain.Data{Bytes: []byte("abc")}}
	c := ev.Clone()

	*c.SequenceNumber = 9
	c.Payload.(domain.Data).Bytes[0] = 'z'

	assert.Equal(t, uint64(1), ev.Seq())
	assert.Equal(t, domain.Data{Bytes: []byte("abc")}, ev.Payload)
	assert.False(t, ev.Equal(c))
}

func TestCheckpointClone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := domain.NewCheckpoint("wf", "flow")
	cp.Put(domain.NewSessionState("b", "peer", true, now))
	cp.Put(domain.NewSessionState("a", "peer", false, now))
	cp.Tombstones["old"] = domain.Tombstone{Counterparty: "peer", LastReceivedSequenceNumber: 2}
	cp.Metadata = map[string]string{"k": "v"}

	c := cp.Clone()
	c.Sessions["a"].Status = domain.StatusError
	c.Tombstones["old"] = domain.Tombstone{}
	c.Metadata["k"] = "changed"
	delete(c.Sessions, "b")

	assert.Equal(t, domain.StatusCreated, cp.Sessions["a"].Status)
	assert.Equal(t, uint64(2), cp.Tombstones["old"].LastReceivedSequenceNumber)
	assert.Equal(t, "v", cp.Metadata["k"])
	assert.Equal(t, []string{"a", "b"}, cp.SessionIDs())
}
