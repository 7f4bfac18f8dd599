package chat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryChannelLifecycle(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	ch, err := c.CreateChannel(ctx, CreateChannelRequest{Name: "alice-0001", Category: "Support"})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch.Name != "alice-0001" || ch.Category != "Support" {
		t.Fatalf("unexpected channel: %+v", ch)
	}

	if err := c.EditChannelTopic(ctx, ch.ID, "User ID: 1001"); err != nil {
		t.Fatalf("EditChannelTopic: %v", err)
	}
	got, err := c.Channel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if got.Topic != "User ID: 1001" {
		t.Fatalf("topic = %q", got.Topic)
	}

	if err := c.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if _, err := c.Channel(ctx, ch.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Channel after delete: %v, want ErrNotFound", err)
	}
	if err := c.DeleteChannel(ctx, ch.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v, want ErrNotFound", err)
	}
}

func TestInMemoryChannelLimit(t *testing.T) {
	c := NewInMemoryClient()
	c.MaxChannels = 1
	ctx := context.Background()

	if _, err := c.CreateChannel(ctx, CreateChannelRequest{Name: "first"}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := c.CreateChannel(ctx, CreateChannelRequest{Name: "second"}); !errors.Is(err, ErrChannelLimit) {
		t.Fatalf("CreateChannel over limit: %v, want ErrChannelLimit", err)
	}
}

func TestInMemorySendToMissingChannel(t *testing.T) {
	c := NewInMemoryClient()
	if _, err := c.SendMessage(context.Background(), ToChannel(99), "hi", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SendMessage: %v, want ErrNotFound", err)
	}
}

func TestInMemoryBlockedRecipient(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	if _, err := c.SendMessage(ctx, ToUser(1001), "hi", nil); err != nil {
		t.Fatalf("SendMessage before block: %v", err)
	}
	c.Block(1001)
	if _, err := c.SendMessage(ctx, ToUser(1001), "hi", nil); !errors.Is(err, ErrDeliveryBlocked) {
		t.Fatalf("SendMessage after block: %v, want ErrDeliveryBlocked", err)
	}
}

func TestInMemoryHistoryNewestFirst(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	ch, err := c.CreateChannel(ctx, CreateChannelRequest{Name: "hist"})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	dest := ToChannel(ch.ID)
	for _, content := range []string{"one", "two", "three"} {
		if _, err := c.SendMessage(ctx, dest, content, nil); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	msgs, err := c.History(ctx, dest, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "three" || msgs[1].Content != "two" {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	all, err := c.History(ctx, dest, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d", len(all))
	}

	if _, err := c.History(ctx, ToChannel(999), 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("History of missing channel: %v, want ErrNotFound", err)
	}
}

func TestInMemoryEditAndDeleteMessage(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	ch, _ := c.CreateChannel(ctx, CreateChannelRequest{Name: "edit"})
	dest := ToChannel(ch.ID)
	msg, err := c.SendMessage(ctx, dest, "", &Embed{Title: "before"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := c.EditMessage(ctx, dest, msg.ID, &Embed{Title: "after"}); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	sent := c.Sent(dest)
	if len(sent) != 1 || len(sent[0].Embeds) != 1 || sent[0].Embeds[0].Title != "after" {
		t.Fatalf("unexpected edited state: %+v", sent)
	}

	if err := c.DeleteMessage(ctx, dest, msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if got := c.Sent(dest); len(got) != 0 {
		t.Fatalf("messages after delete: %+v", got)
	}
	if err := c.DeleteMessage(ctx, dest, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v, want ErrNotFound", err)
	}
}

func TestInMemoryInjectAssignsIdentity(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	ch, _ := c.CreateChannel(ctx, CreateChannelRequest{Name: "inject"})
	dest := ToChannel(ch.ID)
	c.InjectMessage(dest, &Message{Content: "seeded"})

	msgs, err := c.History(ctx, dest, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d", len(msgs))
	}
	if msgs[0].ID == 0 || msgs[0].ChannelID != ch.ID || msgs[0].CreatedAt.IsZero() {
		t.Fatalf("injected message missing identity: %+v", msgs[0])
	}
}

func TestInMemoryReactionsAndPins(t *testing.T) {
	c := NewInMemoryClient()
	ctx := context.Background()

	ch, _ := c.CreateChannel(ctx, CreateChannelRequest{Name: "pins"})
	dest := ToChannel(ch.ID)
	msg, _ := c.SendMessage(ctx, dest, "pin me", nil)

	if err := c.AddReaction(ctx, dest, msg.ID, "🔒"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if got := c.Reactions(msg.ID); len(got) != 1 || got[0] != "🔒" {
		t.Fatalf("Reactions = %v", got)
	}

	if err := c.PinMessage(ctx, ch.ID, msg.ID); err != nil {
		t.Fatalf("PinMessage: %v", err)
	}
	if got := c.Pinned(ch.ID); len(got) != 1 || got[0] != msg.ID {
		t.Fatalf("Pinned = %v", got)
	}
}

func TestInMemoryDirectory(t *testing.T) {
	bot := &User{ID: 1, Name: "threadmail", Bot: true}
	d := NewInMemoryDirectory(bot)
	ctx := context.Background()

	if d.BotUser() != bot {
		t.Fatal("BotUser mismatch")
	}

	alice := &User{ID: 1001, Name: "alice", Discriminator: "0001"}
	d.AddUser(alice, "main", "side")

	u, err := d.User(ctx, 1001)
	if err != nil || u.String() != "alice#0001" {
		t.Fatalf("User: %v, %v", u, err)
	}
	if _, err := d.User(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: %v, want ErrNotFound", err)
	}

	shares, err := d.SharesGuild(ctx, 1001)
	if err != nil || !shares {
		t.Fatalf("SharesGuild = %v, %v", shares, err)
	}
	guilds, err := d.MutualGuilds(ctx, 1001)
	if err != nil || len(guilds) != 2 {
		t.Fatalf("MutualGuilds = %v, %v", guilds, err)
	}

	// Not yet a member of the main guild.
	if _, err := d.Member(ctx, 1001); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Member before AddMember: %v, want ErrNotFound", err)
	}
	d.AddMember(&Member{User: *alice, Roles: []string{"everyone"}})
	if _, err := d.Member(ctx, 1001); err != nil {
		t.Fatalf("Member: %v", err)
	}
}

func TestRateLimitedPassesThrough(t *testing.T) {
	inner := NewInMemoryClient()
	c := RateLimited(inner, 100, 10)
	ctx := context.Background()

	ch, err := c.CreateChannel(ctx, CreateChannelRequest{Name: "paced"})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if _, err := c.SendMessage(ctx, ToChannel(ch.ID), "hi", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	// Reads are not paced and hit the inner client directly.
	if _, err := c.Channels(ctx); err != nil {
		t.Fatalf("Channels: %v", err)
	}
}

func TestRateLimitedHonorsContext(t *testing.T) {
	inner := NewInMemoryClient()
	// One-token bucket refilling far too slowly for the second call.
	c := RateLimited(inner, 0.001, 1)
	ctx := context.Background()

	if _, err := c.CreateChannel(ctx, CreateChannelRequest{Name: "first"}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := c.CreateChannel(short, CreateChannelRequest{Name: "second"}); err == nil {
		t.Fatal("expected the limiter to give up on an expiring context")
	}
}
