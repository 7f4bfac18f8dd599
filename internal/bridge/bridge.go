// Package bridge wires the thread core to a chat transport: inbound
// direct messages open and feed threads, close reactions let
// recipients end their own thread, and persisted closure records are
// re-armed after a restart.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/threadmail/threadmail/internal/chat"
	"github.com/threadmail/threadmail/internal/logging"
	"github.com/threadmail/threadmail/internal/settings"
	"github.com/threadmail/threadmail/internal/task"
	"github.com/threadmail/threadmail/internal/thread"
)

// Bridge dispatches transport traffic into the thread registry.
type Bridge struct {
	registry *thread.Registry
	client   chat.Client
	dir      chat.Directory
	settings *settings.Store
	tasks    *task.Runner
	log      zerolog.Logger
	now      func() time.Time
}

// Options configures New beyond its required collaborators.
type Options struct {
	Now func() time.Time
}

// New builds a bridge around an already-wired registry.
func New(registry *thread.Registry, client chat.Client, dir chat.Directory, st *settings.Store, tasks *task.Runner, logger zerolog.Logger, opts Options) *Bridge {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		registry: registry,
		client:   client,
		dir:      dir,
		settings: st,
		tasks:    tasks,
		log:      logger.With().Str("component", "bridge").Logger(),
		now:      now,
	}
}

// Registry exposes the underlying registry for command surfaces.
func (b *Bridge) Registry() *thread.Registry {
	return b.registry
}

// HandleInbound processes one direct message from a user: the author's
// thread is found or created and the message relayed into it. The
// source message is acknowledged with the configured sent emoji, or
// the blocked emoji when the relay failed.
func (b *Bridge) HandleInbound(ctx context.Context, msg *chat.Message) error {
	if msg.Author.Bot {
		return nil
	}

	t, err := b.registry.FindOrCreate(ctx, &msg.Author, nil, "")
	if err == nil && t == nil {
		err = fmt.Errorf("bridge: no thread for user %d", msg.Author.ID)
	}
	if err == nil {
		_, err = t.Send(ctx, msg, thread.SendOptions{})
	}

	emoji := b.settings.Emoji(settings.KeySentEmoji, "✅")
	if err != nil {
		// Transport errors can echo request headers; scrub before logging.
		b.log.Warn().Int64("user_id", msg.Author.ID).
			Str("error", logging.RedactErr(err)).Msg("inbound relay failed")
		emoji = b.settings.Emoji(settings.KeyBlockedEmoji, "\U0001F6AB")
	}
	if msg.ID != 0 {
		b.tasks.Go(ctx, "bridge.ack", func(ctx context.Context) error {
			return b.client.AddReaction(ctx, chat.ToUser(msg.Author.ID), msg.ID, emoji)
		})
	}
	return err
}

// HandleCloseReaction processes a recipient's reaction in their direct
// message channel. When it matches the configured close emoji and
// recipient self-close is enabled, their thread closes immediately.
func (b *Bridge) HandleCloseReaction(ctx context.Context, userID int64, emoji string) error {
	if b.settings.Bool(settings.KeyDisableRecipientThreadClose) {
		return nil
	}
	if emoji != b.settings.Emoji(settings.KeyCloseEmoji, "\U0001F512") {
		return nil
	}

	t, err := b.registry.Find(ctx, thread.FindQuery{RecipientID: userID})
	if err != nil {
		return fmt.Errorf("bridge: find thread for close reaction: %w", err)
	}
	if t == nil {
		return nil
	}

	closer := t.Recipient()
	if closer == nil {
		if user, err := b.dir.User(ctx, userID); err == nil {
			closer = user
		} else {
			closer = &chat.User{ID: userID}
		}
	}
	return t.Close(ctx, thread.CloseOptions{
		Closer:        closer,
		DeleteChannel: true,
	})
}

// RearmClosures replays persisted closure records after a restart.
// Records whose thread no longer resolves are dropped; the rest are
// re-armed with the remaining delay, floored at zero so overdue closes
// fire immediately.
func (b *Bridge) RearmClosures(ctx context.Context) error {
	records := b.settings.Closures()
	if len(records) == 0 {
		return nil
	}
	b.log.Info().Int("count", len(records)).Msg("re-arming pending closures")

	dropped := false
	for threadID, record := range records {
		t, err := b.registry.Find(ctx, thread.FindQuery{RecipientID: threadID})
		if err != nil {
			return fmt.Errorf("bridge: find thread %d for re-arm: %w", threadID, err)
		}
		if t == nil {
			b.log.Info().Int64("thread_id", threadID).Msg("closure record for missing thread dropped")
			b.settings.DeleteClosure(threadID)
			dropped = true
			continue
		}

		closer, err := b.dir.User(ctx, record.CloserID)
		if err != nil {
			closer = b.dir.BotUser()
		}

		remaining := record.Time.Sub(b.now())
		if remaining < 0 {
			remaining = 0
		}
		opts := thread.CloseOptions{
			Closer:        closer,
			After:         remaining,
			Silent:        record.Silent,
			DeleteChannel: record.DeleteChannel,
			Message:       record.Message,
			AutoClose:     record.AutoClose,
		}
		if remaining == 0 {
			// Overdue closes run detached so a slow close batch does
			// not stall startup.
			b.tasks.Go(ctx, "bridge.overdue-close", func(ctx context.Context) error {
				return t.Close(ctx, opts)
			})
			continue
		}
		if err := t.Close(ctx, opts); err != nil {
			return fmt.Errorf("bridge: re-arm close for thread %d: %w", threadID, err)
		}
	}

	if dropped {
		if err := b.settings.Update(ctx); err != nil {
			return fmt.Errorf("bridge: flush dropped closure records: %w", err)
		}
	}
	return nil
}
