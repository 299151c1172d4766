package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/formationai/marketplace/relay"
)

// Task types.
const (
	TypeRelayForward = "relay:forward"
	TypeHealthCheck  = "health:check"
)

// Queue names.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// CreateRelayForwardTask builds the task that delivers one envelope to the
// relay target.
func CreateRelayForwardTask(envelope relay.Envelope) (*asynq.Task, error) {
	if envelope.EventType == "" {
		return nil, fmt.Errorf("envelope has no event type")
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return asynq.NewTask(TypeRelayForward, payload), nil
}
