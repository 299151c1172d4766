package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formationai/marketplace/relay"
)

type fakePoster struct {
	posted []relay.Envelope
	err    error
}

func (f *fakePoster) Post(_ context.Context, envelope relay.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, envelope)
	return nil
}

func TestCreateRelayForwardTask(t *testing.T) {
	tests := []struct {
		name     string
		envelope relay.Envelope
		wantErr  bool
	}{
		{
			name: "valid envelope",
			envelope: relay.Envelope{
				EventType: "customer.subscription.updated",
				StripeData: &relay.SubscriptionData{
					SubscriptionID: "sub_1",
					CustomerID:     "cus_1",
					Status:         "active",
					SubjectID:      "did:user:alice",
				},
			},
		},
		{
			name:     "missing event type",
			envelope: relay.Envelope{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := CreateRelayForwardTask(tt.envelope)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, TypeRelayForward, task.Type())

			var decoded relay.Envelope
			require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
			assert.Equal(t, tt.envelope, decoded)
		})
	}
}

func TestRelayHandlerProcessTask(t *testing.T) {
	envelope := relay.Envelope{
		EventType:  "customer.subscription.deleted",
		StripeData: &relay.SubscriptionData{SubscriptionID: "sub_1", SubjectID: "did:user:alice"},
	}

	task, err := CreateRelayForwardTask(envelope)
	require.NoError(t, err)

	t.Run("delivers envelope", func(t *testing.T) {
		poster := &fakePoster{}
		handler := NewRelayHandler(poster, zap.NewNop())

		require.NoError(t, handler.ProcessTask(context.Background(), task))
		require.Len(t, poster.posted, 1)
		assert.Equal(t, envelope, poster.posted[0])
	})

	t.Run("delivery failure is retryable", func(t *testing.T) {
		poster := &fakePoster{err: errors.New("target down")}
		handler := NewRelayHandler(poster, zap.NewNop())

		err := handler.ProcessTask(context.Background(), task)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		handler := NewRelayHandler(&fakePoster{}, zap.NewNop())

		err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeRelayForward, []byte("{not json")))
		require.Error(t, err)
		assert.True(t, errors.Is(err, asynq.SkipRetry))
	})
}
