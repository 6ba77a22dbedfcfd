package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/do/v2"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
)

const (
	ReviewTopic      = "kakunin:review"
	matchTopicPrefix = "kakunin:match:"
)

func MatchTopic(matchID string) string {
	return matchTopicPrefix + matchID
}

type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// NewPublisher picks the valkey publisher when an address is configured and
// a no-op publisher otherwise.
func NewPublisher(i do.Injector) (Publisher, error) {
	addr := do.MustInvokeNamed[string](i, "valkey-addr")
	logger := do.MustInvoke[*zap.Logger](i).Named("notify")

	if addr == "" {
		logger.Info("no valkey address configured, notifications disabled")

		return NopPublisher{}, nil
	}

	publisher, err := NewValkeyPublisher(addr)
	if err != nil {
		return nil, err
	}

	logger.Info("publishing notifications", zap.String("addr", addr))

	return publisher, nil
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error {
	return nil
}

type ValkeyPublisher struct {
	client valkey.Client
}

func NewValkeyPublisher(addr string) (*ValkeyPublisher, error) {
	//nolint:exhaustruct
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return &ValkeyPublisher{
		client: client,
	}, nil
}

func (p *ValkeyPublisher) Publish(ctx context.Context, topic string, v any) error {
	message, err := Encode(v)
	if err != nil {
		return err
	}

	cmd := p.client.B().Publish().Channel(topic).Message(message).Build()

	err = p.client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func (p *ValkeyPublisher) Shutdown() {
	p.client.Close()
}

// Encode renders a notification body. Strings and byte slices go out as-is.
func Encode(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case []byte:
		return string(value), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification: %w", err)
	}

	return string(data), nil
}
