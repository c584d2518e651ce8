// Package broker defines the interfaces for message brokers and provides implementations.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a broker or admin that has been closed.
	ErrClosed = errors.New("broker is closed")
	// ErrTopicExists is returned by Admin.CreateTopic when the topic is already present.
	ErrTopicExists = errors.New("topic already exists")
)

// Broker abstracts message publishing and consumption.
// This interface supports both in-memory and distributed (Redpanda/Kafka) implementations.
type Broker interface {
	// Publish sends a message to a topic with an optional key for partitioning.
	// All messages sharing a key land in the same partition, in publish order.
	// An empty key lets the broker pick the partition.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel for consuming messages from a topic.
	// groupID is used for consumer group coordination; a group that has never
	// committed starts from the beginning of the topic.
	// The channel is closed when ctx is cancelled or the broker is closed.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Admin provisions topics.
type Admin interface {
	// CreateTopic creates a topic. It returns an error wrapping ErrTopicExists
	// when the topic is already present.
	CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16) error

	// ListTopics returns the names of all non-internal topics.
	ListTopics(ctx context.Context) ([]string, error)

	// Close releases the administrative connection.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}
