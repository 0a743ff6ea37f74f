package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes delivery notifications for downstream consumers.
type Notifier struct {
	client  *redis.Client
	channel string
}

// NewNotifier creates a Notifier and verifies the connection.
func NewNotifier(addr, password string, db int, channel string) (*Notifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Notifier{
		client:  client,
		channel: channel,
	}, nil
}

// DeliveryNotification is the message published after a successful delivery.
type DeliveryNotification struct {
	OrderID    int64  `json:"order_id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"` // "success" or "duplicate"
	Timestamp  int64  `json:"timestamp"`
}

// DeliveryCompleted publishes a notification to the configured channel.
func (n *Notifier) DeliveryCompleted(ctx context.Context, orderID int64, externalID, status string) error {
	notification := &DeliveryNotification{
		OrderID:    orderID,
		ExternalID: externalID,
		Status:     status,
		Timestamp:  time.Now().Unix(),
	}

	msgJSON, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Close closes the redis connection.
func (n *Notifier) Close() error {
	return n.client.Close()
}
