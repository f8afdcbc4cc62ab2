package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublishesPublicFields(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, source: "node-1"}

	ev := darkpool.MatchEvent{
		ComputationID: 12,
		Maker:         darkpool.OrderRef{1},
		Taker:         darkpool.OrderRef{2},
		Success:       true,
		Timestamp:     time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, sink.Emit(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	require.Equal(t, []byte("12"), msg.Key)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	require.Equal(t, true, body["success"])
	require.Equal(t, ev.Maker.Hex(), body["maker_order"])
	require.Len(t, body, 5, "only id, refs, outcome and time are published")

	var back darkpool.MatchEvent
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	require.Equal(t, ev, back)
}

func TestKafkaSinkWrapsErrors(t *testing.T) {
	boom := errors.New("leader not available")
	sink := &KafkaSink{writer: &fakeWriter{err: boom}}
	err := sink.Emit(context.Background(), darkpool.MatchEvent{ComputationID: 3})
	require.ErrorIs(t, err, boom)
}
