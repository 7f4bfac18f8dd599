package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryClient implements Client against process-local state. It
// backs the test suite and the daemon's dry-run transport.
type InMemoryClient struct {
	mu        sync.Mutex
	nextID    int64
	channels  map[int64]*Channel
	messages  map[Destination][]*Message
	reactions map[int64][]string
	pins      map[int64][]int64
	blocked   map[int64]bool

	// MaxChannels caps channel creation; 0 means unlimited.
	MaxChannels int

	now func() time.Time
}

// NewInMemoryClient returns an empty in-memory transport.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		channels:  make(map[int64]*Channel),
		messages:  make(map[Destination][]*Message),
		reactions: make(map[int64][]string),
		pins:      make(map[int64][]int64),
		blocked:   make(map[int64]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock, for tests.
func (c *InMemoryClient) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
}

// Block marks a user as unreachable for direct messages.
func (c *InMemoryClient) Block(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[userID] = true
}

func (c *InMemoryClient) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *InMemoryClient) CreateChannel(_ context.Context, req CreateChannelRequest) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MaxChannels > 0 && len(c.channels) >= c.MaxChannels {
		return nil, ErrChannelLimit
	}
	ch := &Channel{
		ID:        c.id(),
		Name:      req.Name,
		Category:  req.Category,
		CreatedAt: c.now(),
	}
	c.channels[ch.ID] = ch
	return ch, nil
}

func (c *InMemoryClient) Channel(_ context.Context, id int64) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (c *InMemoryClient) Channels(_ context.Context) ([]*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		cp := *ch
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *InMemoryClient) EditChannelTopic(_ context.Context, channelID int64, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.Topic = topic
	return nil
}

func (c *InMemoryClient) DeleteChannel(_ context.Context, channelID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(c.channels, channelID)
	delete(c.messages, ToChannel(channelID))
	return nil
}

func (c *InMemoryClient) SendMessage(_ context.Context, dest Destination, content string, embed *Embed) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dest.Direct() && c.blocked[dest.UserID] {
		return nil, ErrDeliveryBlocked
	}
	if !dest.Direct() {
		if _, ok := c.channels[dest.ChannelID]; !ok {
			return nil, ErrNotFound
		}
	}
	msg := &Message{
		ID:        c.id(),
		ChannelID: dest.ChannelID,
		Content:   content,
		CreatedAt: c.now(),
	}
	if embed != nil {
		cp := *embed
		msg.Embeds = []*Embed{&cp}
	}
	c.messages[dest] = append(c.messages[dest], msg)
	cp := *msg
	return &cp, nil
}

func (c *InMemoryClient) EditMessage(_ context.Context, dest Destination, messageID int64, embed *Embed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.messages[dest] {
		if msg.ID == messageID {
			cp := *embed
			msg.Embeds = []*Embed{&cp}
			return nil
		}
	}
	return ErrNotFound
}

func (c *InMemoryClient) DeleteMessage(_ context.Context, dest Destination, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.messages[dest]
	for i, msg := range msgs {
		if msg.ID == messageID {
			c.messages[dest] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (c *InMemoryClient) History(_ context.Context, dest Destination, limit int) ([]*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !dest.Direct() {
		if _, ok := c.channels[dest.ChannelID]; !ok {
			return nil, ErrNotFound
		}
	}
	msgs := c.messages[dest]
	out := make([]*Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *msgs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (c *InMemoryClient) AddReaction(_ context.Context, _ Destination, messageID int64, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions[messageID] = append(c.reactions[messageID], emoji)
	return nil
}

func (c *InMemoryClient) PinMessage(_ context.Context, channelID, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[channelID] = append(c.pins[channelID], messageID)
	return nil
}

// Sent returns a copy of everything delivered to dest, oldest first.
func (c *InMemoryClient) Sent(dest Destination) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.messages[dest]
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		out = append(out, &cp)
	}
	return out
}

// Pinned returns the message ids pinned in a channel.
func (c *InMemoryClient) Pinned(channelID int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.pins[channelID]...)
}

// Reactions returns the emoji attached to a message.
func (c *InMemoryClient) Reactions(messageID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reactions[messageID]...)
}

// InjectMessage appends an externally-authored message to a
// destination, for seeding history in tests.
func (c *InMemoryClient) InjectMessage(dest Destination, msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = c.id()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}
	msg.ChannelID = dest.ChannelID
	c.messages[dest] = append(c.messages[dest], msg)
}

// InMemoryDirectory implements Directory against fixed state.
type InMemoryDirectory struct {
	mu      sync.Mutex
	bot     *User
	icon    string
	users   map[int64]*User
	members map[int64]*Member
	mutual  map[int64][]string
}

// NewInMemoryDirectory returns a directory whose bridge identity is bot.
func NewInMemoryDirectory(bot *User) *InMemoryDirectory {
	return &InMemoryDirectory{
		bot:     bot,
		users:   map[int64]*User{bot.ID: bot},
		members: make(map[int64]*Member),
		mutual:  make(map[int64][]string),
	}
}

// AddUser registers a user visible to the directory. Guilds are the
// mutual guild names; membership in the main guild is registered
// separately with AddMember.
func (d *InMemoryDirectory) AddUser(u *User, guilds ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	d.mutual[u.ID] = guilds
}

// AddMember registers main-guild membership for a previously added user.
func (d *InMemoryDirectory) AddMember(m *Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[m.User.ID] = &m.User
	d.members[m.User.ID] = m
	if len(d.mutual[m.User.ID]) == 0 {
		d.mutual[m.User.ID] = []string{"main"}
	}
}

// SetGuildIconURL sets the icon returned by GuildIconURL.
func (d *InMemoryDirectory) SetGuildIconURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.icon = url
}

func (d *InMemoryDirectory) User(_ context.Context, id int64) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (d *InMemoryDirectory) Member(_ context.Context, id int64) (*Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (d *InMemoryDirectory) SharesGuild(_ context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mutual[id]) > 0, nil
}

func (d *InMemoryDirectory) MutualGuilds(_ context.Context, id int64) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.mutual[id]...), nil
}

func (d *InMemoryDirectory) BotUser() *User {
	return d.bot
}

func (d *InMemoryDirectory) GuildIconURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.icon
}
