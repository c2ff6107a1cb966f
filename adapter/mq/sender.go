package mq

import (
	"context"
	"fmt"

	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
)

// CommandSender publishes tagged commands for a worker to consume.
type CommandSender struct {
	publisher eventbus.Publisher
	codec     *sharedApplication.Codec
}

// NewCommandSender creates a sender.
func NewCommandSender(publisher eventbus.Publisher, codec *sharedApplication.Codec) *CommandSender {
	return &CommandSender{publisher: publisher, codec: codec}
}

// Send encodes cmd and publishes it under its command routing key.
func (s *CommandSender) Send(ctx context.Context, cmd sharedDomain.Command) error {
	body, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, CommandRoutingKey(cmd.MessageType()), body); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.MessageType(), err)
	}
	return nil
}
