package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// RedpandaAdmin provisions topics through the Kafka admin API.
type RedpandaAdmin struct {
	client *kgo.Client
	adm    *kadm.Client
}

// NewRedpandaAdmin creates an admin client for the given seed brokers.
func NewRedpandaAdmin(brokers []string, clientID string) (*RedpandaAdmin, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka admin client: %w", err)
	}

	return &RedpandaAdmin{client: client, adm: kadm.NewClient(client)}, nil
}

// Ping checks that at least one seed broker answers.
func (a *RedpandaAdmin) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// CreateTopic creates a single topic.
// A TOPIC_ALREADY_EXISTS response is reported as ErrTopicExists.
func (a *RedpandaAdmin) CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16) error {
	resp, err := a.adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	r, ok := resp[topic]
	if !ok {
		return fmt.Errorf("failed to create topic %s: missing response", topic)
	}
	if errors.Is(r.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrTopicExists, topic)
	}
	if r.Err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, r.Err)
	}
	return nil
}

// ListTopics returns the sorted names of all non-internal topics.
func (a *RedpandaAdmin) ListTopics(ctx context.Context) ([]string, error) {
	details, err := a.adm.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return details.Names(), nil
}

// Close closes the underlying client.
func (a *RedpandaAdmin) Close() error {
	a.adm.Close()
	return nil
}
