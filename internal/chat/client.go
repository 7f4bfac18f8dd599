package chat

import (
	"context"
	"errors"
)

// Transport errors. Concrete clients must return these sentinels (or
// wrap them) so the core can distinguish the failure classes it is
// required to handle.
var (
	// ErrChannelLimit is returned by CreateChannel when the service
	// refuses because the guild's channel budget is exhausted.
	ErrChannelLimit = errors.New("chat: channel limit reached")

	// ErrDeliveryBlocked is returned by SendMessage when the recipient
	// cannot be reached (blocked the bridge or restricted direct
	// messages).
	ErrDeliveryBlocked = errors.New("chat: delivery blocked by recipient")

	// ErrNotFound is returned when a channel, message or user no longer
	// exists on the service.
	ErrNotFound = errors.New("chat: not found")
)

// CreateChannelRequest carries the parameters for channel creation.
type CreateChannelRequest struct {
	Name     string
	Category string

	// Private hides the channel from the default role. Only honored
	// when the channel is created outside a category; categorized
	// channels inherit their category's overwrites.
	Private bool
}

// Client is the transport the core relays through. All methods accept a
// context and may block on the remote service; implementations own
// their retry and timeout behavior.
type Client interface {
	// CreateChannel provisions a staff-side channel. Returns
	// ErrChannelLimit when the service refuses for capacity reasons.
	CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error)

	// Channel resolves a channel by id; ErrNotFound if it was deleted.
	Channel(ctx context.Context, id int64) (*Channel, error)

	// Channels lists the guild's live channels.
	Channels(ctx context.Context) ([]*Channel, error)

	// EditChannelTopic replaces a channel's topic.
	EditChannelTopic(ctx context.Context, channelID int64, topic string) error

	// DeleteChannel removes a channel.
	DeleteChannel(ctx context.Context, channelID int64) error

	// SendMessage delivers content and/or an embed to a destination and
	// returns a handle to the delivered message. Returns
	// ErrDeliveryBlocked for unreachable direct-message recipients.
	SendMessage(ctx context.Context, dest Destination, content string, embed *Embed) (*Message, error)

	// EditMessage replaces a delivered message's embed.
	EditMessage(ctx context.Context, dest Destination, messageID int64, embed *Embed) error

	// DeleteMessage removes a delivered message.
	DeleteMessage(ctx context.Context, dest Destination, messageID int64) error

	// History returns up to limit messages from a destination, newest
	// first. ErrNotFound if the channel was deleted.
	History(ctx context.Context, dest Destination, limit int) ([]*Message, error)

	// AddReaction attaches an emoji reaction to a delivered message.
	AddReaction(ctx context.Context, dest Destination, messageID int64, emoji string) error

	// PinMessage pins a delivered channel message.
	PinMessage(ctx context.Context, channelID, messageID int64) error
}

// Directory resolves identity and guild-membership metadata. The core
// uses it only for display formatting and reachability checks.
type Directory interface {
	// User resolves an account by id; ErrNotFound if unknown.
	User(ctx context.Context, id int64) (*User, error)

	// Member resolves main-guild membership; ErrNotFound if the user is
	// not a member.
	Member(ctx context.Context, id int64) (*Member, error)

	// SharesGuild reports whether the user shares at least one guild
	// with the bridge.
	SharesGuild(ctx context.Context, id int64) (bool, error)

	// MutualGuilds lists the names of guilds shared with the user.
	MutualGuilds(ctx context.Context, id int64) ([]string, error)

	// BotUser is the bridge's own account.
	BotUser() *User

	// GuildIconURL is the main guild's icon, for embed footers.
	GuildIconURL() string
}
