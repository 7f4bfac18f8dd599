package chat

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client, pacing mutating calls with a token
// bucket so bursts of relay traffic do not trip the service's own
// limits. Read calls pass through unpaced.
type RateLimitedClient struct {
	Client
	limiter *rate.Limiter
}

// RateLimited decorates client with a limiter of rps sustained requests
// and the given burst.
func RateLimited(client Client, rps float64, burst int) *RateLimitedClient {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimitedClient{
		Client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *RateLimitedClient) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *RateLimitedClient) CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.Client.CreateChannel(ctx, req)
}

func (c *RateLimitedClient) EditChannelTopic(ctx context.Context, channelID int64, topic string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.Client.EditChannelTopic(ctx, channelID, topic)
}

func (c *RateLimitedClient) DeleteChannel(ctx context.Context, channelID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.Client.DeleteChannel(ctx, channelID)
}

func (c *RateLimitedClient) SendMessage(ctx context.Context, dest Destination, content string, embed *Embed) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.Client.SendMessage(ctx, dest, content, embed)
}

func (c *RateLimitedClient) EditMessage(ctx context.Context, dest Destination, messageID int64, embed *Embed) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.Client.EditMessage(ctx, dest, messageID, embed)
}

func (c *RateLimitedClient) DeleteMessage(ctx context.Context, dest Destination, messageID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.Client.DeleteMessage(ctx, dest, messageID)
}

func (c *RateLimitedClient) AddReaction(ctx context.Context, dest Destination, messageID int64, emoji string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.Client.AddReaction(ctx, dest, messageID, emoji)
}

func (c *RateLimitedClient) PinMessage(ctx context.Context, channelID, messageID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.Client.PinMessage(ctx, channelID, messageID)
}
