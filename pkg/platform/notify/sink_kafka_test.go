package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civreg/pkg/domain"
)

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "identity-events"})
	require.Error(t, err, "expected error when brokers are missing")

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	require.Error(t, err, "expected error when topic is missing")

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{" ", "\t"}, Topic: "identity-events"})
	require.Error(t, err, "expected error when brokers are blank")

	sink, err := NewKafkaSink(KafkaConfig{
		Brokers: []string{" ", "127.0.0.1:9092"},
		Topic:   "identity-events",
	})
	require.NoError(t, err)
	require.NotNil(t, sink)
	require.NoError(t, sink.Close())
}

func TestKafkaSinkNilGuards(t *testing.T) {
	var nilSink *KafkaSink
	require.NoError(t, nilSink.Close())
	require.Error(t, nilSink.Deliver(context.Background(), Event{}))

	empty := &KafkaSink{}
	require.Error(t, empty.Deliver(context.Background(), Event{}))
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkDeliver(t *testing.T) {
	writer := &fakeKafkaWriter{}
	sink := &KafkaSink{writer: writer}

	event := Event{
		Kind:             KindIdentityMerged,
		CustomerID:       id.CustomerID("C-7"),
		MasterCustomerID: id.CustomerID("C-1"),
		RuleCode:         "R-EXACT-01",
	}
	require.NoError(t, sink.Deliver(context.Background(), event))
	require.Len(t, writer.msgs, 1)

	assert.Equal(t, []byte("C-7"), writer.msgs[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &decoded))
	assert.Equal(t, KindIdentityMerged, decoded.Kind)
	assert.Equal(t, id.CustomerID("C-1"), decoded.MasterCustomerID)
	assert.Equal(t, "R-EXACT-01", decoded.RuleCode)
}

func TestKafkaSinkDeliverError(t *testing.T) {
	writer := &fakeKafkaWriter{err: errors.New("broker down")}
	sink := &KafkaSink{writer: writer}

	err := sink.Deliver(context.Background(), Event{CustomerID: "C-8"})
	require.Error(t, err)
}
