package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"demarches/internal/calendar"
	"demarches/internal/deadline"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func deadlines() []deadline.Deadline {
	return []deadline.Deadline{
		{ID: uuid.MustParse("6f1c8f4e-9a55-5b1e-8d3c-7a2b1c0d9e8f"), Type: deadline.TypeCAFDeclaration, Date: calendar.Date(2026, 1, 2), Stage: deadline.StagePreparing, RuleID: "caf_quarterly_declaration"},
		{ID: uuid.MustParse("0a9b8c7d-6e5f-5a4b-9c3d-2e1f0a9b8c7d"), Type: deadline.TypeTax, Date: calendar.Date(2026, 6, 5), Stage: deadline.StagePreparing, RuleID: "income_tax_declaration"},
	}
}

func TestPublish(t *testing.T) {
	producer := &fakeProducer{}
	p := New(producer, "deadlines", nil)

	require.NoError(t, p.Publish(context.Background(), "household-42", deadlines()))
	require.Len(t, producer.records, 2)

	rec := producer.records[0]
	assert.Equal(t, "deadlines", rec.Topic)
	assert.Equal(t, "household-42/6f1c8f4e-9a55-5b1e-8d3c-7a2b1c0d9e8f", string(rec.Key))
	assert.Contains(t, rec.Headers, kgo.RecordHeader{Key: "deadline_type", Value: []byte("caf_declaration")})

	var event Event
	require.NoError(t, json.Unmarshal(rec.Value, &event))
	assert.Equal(t, "household-42", event.Household)
	assert.Equal(t, calendar.Date(2026, 1, 2), event.Deadline.Date)
}

func TestPublish_SameInputSameRecords(t *testing.T) {
	first, second := &fakeProducer{}, &fakeProducer{}
	require.NoError(t, New(first, "t", nil).Publish(context.Background(), "h", deadlines()))
	require.NoError(t, New(second, "t", nil).Publish(context.Background(), "h", deadlines()))
	for i := range first.records {
		assert.Equal(t, first.records[i].Key, second.records[i].Key)
		assert.Equal(t, first.records[i].Value, second.records[i].Value)
	}
}

func TestPublish_HouseholdsDoNotShareKeys(t *testing.T) {
	producer := &fakeProducer{}
	p := New(producer, "t", nil)
	require.NoError(t, p.Publish(context.Background(), "household-a", deadlines()[:1]))
	require.NoError(t, p.Publish(context.Background(), "household-b", deadlines()[:1]))

	require.Len(t, producer.records, 2)
	assert.NotEqual(t, producer.records[0].Key, producer.records[1].Key)
}

func TestPublish_Errors(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unreachable")}
	err := New(producer, "t", nil).Publish(context.Background(), "h", deadlines())
	assert.ErrorContains(t, err, "broker unreachable")

	empty := &fakeProducer{}
	require.NoError(t, New(empty, "t", nil).Publish(context.Background(), "h", nil))
	assert.Empty(t, empty.records)
}
