// Package thread implements the ticketing bridge core: the
// per-conversation state machine, its closure scheduler, the relay
// formatter and the registry indexing live conversations. One Thread
// tracks one user's conversation, bound to at most one staff channel.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/threadmail/threadmail/internal/chat"
	"github.com/threadmail/threadmail/internal/events"
	"github.com/threadmail/threadmail/internal/logstore"
	"github.com/threadmail/threadmail/internal/metrics"
	"github.com/threadmail/threadmail/internal/settings"
)

// ErrMissingContent is returned by Reply and Note when the message
// carries neither text nor attachments.
var ErrMissingContent = errors.New("thread: message requires content or attachments")

// Thread is one tracked support conversation. It is created in a
// not-ready state by the registry; Setup provisions its channel and
// flips readiness exactly once. Closing is terminal for the instance.
type Thread struct {
	id  int64
	reg *Registry

	ready     chan struct{}
	readyOnce sync.Once

	mu             sync.Mutex
	recipient      *chat.User
	channel        *chat.Channel
	closed         bool
	closeTimer     *time.Timer
	autoCloseTimer *time.Timer

	// relayMu serializes a primary relay message and its secondary
	// image burst against concurrent relays into the same thread.
	relayMu sync.Mutex
}

func newThread(reg *Registry, id int64, recipient *chat.User, channel *chat.Channel) *Thread {
	return &Thread{
		id:        id,
		reg:       reg,
		recipient: recipient,
		channel:   channel,
		ready:     make(chan struct{}),
	}
}

// ID is the thread's user identity key.
func (t *Thread) ID() int64 {
	return t.id
}

// Recipient is the resolved user, or nil when only the id is known.
func (t *Thread) Recipient() *chat.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recipient
}

// Channel is the bound staff channel; nil while setting up or after
// close.
func (t *Thread) Channel() *chat.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel
}

// Ready reports whether setup has completed.
func (t *Thread) Ready() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// WaitUntilReady blocks until the thread is fully set up or the
// context ends.
func (t *Thread) WaitUntilReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markReady flips the readiness gate. Idempotent; the gate never
// reverts.
func (t *Thread) markReady() {
	t.readyOnce.Do(func() {
		close(t.ready)
		t.reg.events.Publish(events.Event{
			Type:        events.TypeThreadReady,
			ThreadID:    t.id,
			ChannelID:   t.channelID(),
			RecipientID: t.id,
		})
	})
}

func (t *Thread) channelID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channel == nil {
		return 0
	}
	return t.channel.ID
}

func (t *Thread) pendingManualClose() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeTimer != nil
}

// Setup provisions the thread's channel: creates it under a
// collision-free slug, binds the topic encoding, opens the
// conversation log, posts the introductory embed (readiness flips
// after that attempt, success or not) and notifies the recipient.
// Channel-creation refusal degrades silently: the thread is evicted
// and a notice goes to the operations log channel if one is
// configured.
func (t *Thread) Setup(ctx context.Context, creator *chat.User, category string) error {
	r := t.reg
	recipient := t.Recipient()
	if recipient == nil {
		return fmt.Errorf("thread %d: setup requires a resolved recipient", t.id)
	}

	r.events.Publish(events.Event{
		Type:        events.TypeThreadCreated,
		ThreadID:    t.id,
		RecipientID: t.id,
	})

	if category == "" {
		category = r.settings.String(settings.KeyMainCategory)
	}

	name, err := r.channelName(ctx, recipient)
	if err != nil {
		return fmt.Errorf("thread %d: resolve channel name: %w", t.id, err)
	}

	channel, err := r.client.CreateChannel(ctx, chat.CreateChannelRequest{
		Name:     name,
		Category: category,
		Private:  category == "",
	})
	if err != nil {
		r.remove(t.id)
		r.log.Error().Int64("thread_id", t.id).Err(err).Msg("channel creation failed, thread evicted")
		if logChannel, ok := r.settings.Int64(settings.KeyLogChannelID); ok {
			notice := &chat.Embed{
				Color:       colorError,
				Title:       "Error while trying to create a thread",
				Description: err.Error(),
			}
			notice.AddField("Recipient", recipient.Mention())
			if _, err := r.client.SendMessage(ctx, chat.ToChannel(logChannel), "", notice); err != nil {
				r.log.Warn().Err(err).Msg("failed to send channel-creation failure notice")
			}
		}
		return nil
	}

	t.mu.Lock()
	t.channel = channel
	t.mu.Unlock()
	metrics.ThreadsCreated.Inc()

	// Log bookkeeping runs concurrently; failure of either call only
	// costs the info embed its log link and count.
	var (
		logURL   string
		logCount int
		logWG    sync.WaitGroup
	)
	logWG.Add(2)
	go func() {
		defer logWG.Done()
		url, err := r.logs.CreateLogEntry(ctx, recipient, channel, creator)
		if err != nil {
			r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("log entry creation failed")
			return
		}
		logURL = url
	}()
	go func() {
		defer logWG.Done()
		summaries, err := r.logs.UserLogs(ctx, recipient.ID)
		if err != nil {
			r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("user log fetch failed")
			return
		}
		for _, s := range summaries {
			if !s.Open {
				logCount++
			}
		}
	}()
	logWG.Wait()

	if err := r.client.EditChannelTopic(ctx, channel.ID, channelTopic(t.id)); err != nil {
		return fmt.Errorf("thread %d: set channel topic: %w", t.id, err)
	}

	mention := ""
	if creator == nil {
		mention = r.settings.String(settings.KeyMention)
	}

	r.tasks.Go(ctx, "thread.genesis", func(ctx context.Context) error {
		defer t.markReady()
		info := r.infoEmbed(ctx, recipient, logURL, logCount)
		msg, err := r.client.SendMessage(ctx, chat.ToChannel(channel.ID), mention, info)
		if err != nil {
			return fmt.Errorf("thread %d: introductory message: %w", t.id, err)
		}
		r.tasks.Go(ctx, "thread.pin", func(ctx context.Context) error {
			return r.client.PinMessage(ctx, channel.ID, msg.ID)
		})
		return nil
	})

	// Recipient notice is not gated on readiness.
	if creator == nil {
		if err := t.sendCreationNotice(ctx, channel); err != nil {
			r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to notify recipient of new thread")
		}
	}
	return nil
}

func (t *Thread) sendCreationNotice(ctx context.Context, channel *chat.Channel) error {
	r := t.reg
	st := r.settings

	notice := &chat.Embed{
		Color:       st.Color(settings.KeyModColor, colorReady),
		Title:       st.String(settings.KeyThreadCreationTitle),
		Description: st.String(settings.KeyThreadCreationResponse),
		Timestamp:   channel.CreatedAt,
	}

	footer := "Your message has been sent"
	recipientClose := !st.Bool(settings.KeyDisableRecipientThreadClose)
	if recipientClose {
		footer = "Click the lock to close the thread"
	}
	notice.Footer = &chat.EmbedFooter{
		Text:    st.StringOr(settings.KeyThreadCreationFooter, footer),
		IconURL: r.dir.GuildIconURL(),
	}

	msg, err := r.client.SendMessage(ctx, chat.ToUser(t.id), "", notice)
	if err != nil {
		return err
	}
	if recipientClose {
		emoji := st.Emoji(settings.KeyCloseEmoji, "\U0001F512")
		if err := r.client.AddReaction(ctx, chat.ToUser(t.id), msg.ID, emoji); err != nil {
			return err
		}
	}
	return nil
}

// CloseOptions controls Close. Zero After closes immediately; callers
// wanting the usual behavior of removing the staff channel must set
// DeleteChannel explicitly.
type CloseOptions struct {
	// Closer is who requested the close. Required.
	Closer *chat.User

	// After delays the close; zero closes now.
	After time.Duration

	// Silent suppresses the recipient notice and the logged close
	// message.
	Silent bool

	// DeleteChannel removes the bound channel as part of the batch.
	DeleteChannel bool

	// Message overrides the configured close notice body.
	Message string

	// AutoClose marks this as an inactivity close; it occupies the
	// auto timer slot instead of the manual one.
	AutoClose bool
}

// Close closes the thread now, or arms a delayed close. Arming first
// cancels any pending timer of the same kind, so repeated calls never
// stack; the closure record is persisted so an external supervisor can
// re-arm after restart.
func (t *Thread) Close(ctx context.Context, opts CloseOptions) error {
	if opts.Closer == nil {
		return errors.New("thread: close requires a closer")
	}

	t.CancelClosure(ctx, opts.AutoClose, false)

	if opts.After <= 0 {
		return t.closeNow(ctx, opts, false)
	}

	r := t.reg
	r.settings.SetClosure(t.id, settings.Closure{
		Time:          r.now().Add(opts.After),
		CloserID:      opts.Closer.ID,
		Silent:        opts.Silent,
		DeleteChannel: opts.DeleteChannel,
		Message:       opts.Message,
		AutoClose:     opts.AutoClose,
	})
	if err := r.settings.Update(ctx); err != nil {
		r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to persist closure record")
	}

	timer := time.AfterFunc(opts.After, func() {
		// Once fired the batch runs to completion; cancellation only
		// prevents firing.
		if err := t.closeNow(context.Background(), opts, true); err != nil {
			r.log.Error().Int64("thread_id", t.id).Err(err).Msg("scheduled close failed")
		}
	})

	t.mu.Lock()
	if opts.AutoClose {
		t.autoCloseTimer = timer
	} else {
		t.closeTimer = timer
	}
	t.mu.Unlock()

	kind := metrics.KindManual
	if opts.AutoClose {
		kind = metrics.KindAuto
	}
	metrics.ClosesScheduled.WithLabelValues(kind).Inc()
	r.events.Publish(events.Event{
		Type:        events.TypeCloseScheduled,
		ThreadID:    t.id,
		ChannelID:   t.channelID(),
		RecipientID: t.id,
	})
	return nil
}

// closeNow runs the immediate close batch. Log and notice failures are
// swallowed; channel deletion failure propagates. The batch runs at
// most once per thread instance; later entries are no-ops.
func (t *Thread) closeNow(ctx context.Context, opts CloseOptions, scheduled bool) error {
	r := t.reg

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channel := t.channel
	recipient := t.recipient
	t.mu.Unlock()

	// Registry removal comes before any fallible step so racing closes
	// see the thread gone and no-op at the registry level.
	r.remove(t.id)
	t.CancelClosure(ctx, false, true)
	r.settings.DropSubscriptions(t.id)
	r.settings.DropSquad(t.id)

	closeMessage := opts.Message
	if opts.Silent {
		closeMessage = ""
	}

	var posted *logstore.Posted
	if channel != nil {
		p, err := r.logs.PostLog(ctx, channel.ID, logstore.ClosePayload{
			ClosedAt:     r.now(),
			CloseMessage: closeMessage,
			Closer:       *opts.Closer,
		})
		if err != nil {
			r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to seal conversation log")
		} else {
			posted = p
		}
	}

	logURL := ""
	logKey := ""
	if posted != nil {
		logKey = posted.Key
		logURL = r.logs.URL(posted.Key)
	}

	t.sendOpsLogNotice(ctx, opts.Closer, posted, logURL, scheduled)
	t.sendCloseNotice(ctx, opts, recipient, logURL, logKey)

	if err := r.settings.Update(ctx); err != nil {
		r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to flush settings during close")
	}

	kind := metrics.KindManual
	if opts.AutoClose {
		kind = metrics.KindAuto
	}
	metrics.ThreadsClosed.WithLabelValues(kind).Inc()
	r.events.Publish(events.Event{
		Type:        events.TypeThreadClosed,
		ThreadID:    t.id,
		ChannelID:   t.channelID(),
		RecipientID: t.id,
	})

	if opts.DeleteChannel && channel != nil {
		t.mu.Lock()
		t.channel = nil
		t.mu.Unlock()
		if err := r.client.DeleteChannel(ctx, channel.ID); err != nil {
			return fmt.Errorf("thread %d: delete channel: %w", t.id, err)
		}
	}
	return nil
}

// sendOpsLogNotice posts the close summary to the operations log
// channel, if one is configured. Failures are swallowed.
func (t *Thread) sendOpsLogNotice(ctx context.Context, closer *chat.User, posted *logstore.Posted, logURL string, scheduled bool) {
	r := t.reg
	logChannel, ok := r.settings.Int64(settings.KeyLogChannelID)
	if !ok {
		return
	}

	desc := "Could not resolve log url."
	if posted != nil {
		sneakPeek := "No content"
		if len(posted.Messages) > 0 {
			sneakPeek = strings.ReplaceAll(posted.Messages[0].Content, "\n", "")
		}
		desc = fmt.Sprintf("[`%s`](%s): %s", posted.Key, logURL, truncate(sneakPeek, 62))
	}

	recipient := t.Recipient()
	title := fmt.Sprintf("`%d`", t.id)
	if recipient != nil {
		title = fmt.Sprintf("%s (`%d`)", recipient.String(), t.id)
	}

	closerTag := fmt.Sprintf("%s (%d)", closer.String(), closer.ID)
	if closer.ID == t.id {
		closerTag = "the Recipient"
	}
	event := "Thread Closed"
	if scheduled {
		event = "Thread Closed as Scheduled"
	}

	summary := &chat.Embed{
		Title:       title,
		Description: desc,
		Color:       colorError,
		Timestamp:   r.now(),
		Footer:      &chat.EmbedFooter{Text: fmt.Sprintf("%s by %s", event, closerTag)},
	}
	if _, err := r.client.SendMessage(ctx, chat.ToChannel(logChannel), "", summary); err != nil {
		r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to send close summary")
	}
}

// sendCloseNotice tells the recipient their thread closed, unless the
// close is silent or the recipient is unknown. Failures are swallowed.
func (t *Thread) sendCloseNotice(ctx context.Context, opts CloseOptions, recipient *chat.User, logURL, logKey string) {
	if opts.Silent || recipient == nil {
		return
	}
	r := t.reg
	st := r.settings

	message := opts.Message
	if message == "" {
		if opts.Closer.ID == t.id {
			message = st.String(settings.KeyThreadSelfCloseResponse)
		} else {
			message = st.String(settings.KeyThreadCloseResponse)
		}
	}
	message = strings.NewReplacer(
		"{closer}", opts.Closer.Mention(),
		"{loglink}", logURL,
		"{logkey}", logKey,
	).Replace(message)

	notice := &chat.Embed{
		Title:       st.String(settings.KeyThreadCloseTitle),
		Description: message,
		Color:       colorError,
		Timestamp:   r.now(),
		Footer: &chat.EmbedFooter{
			Text:    st.String(settings.KeyThreadCloseFooter),
			IconURL: r.dir.GuildIconURL(),
		},
	}
	if _, err := r.client.SendMessage(ctx, chat.ToUser(recipient.ID), "", notice); err != nil {
		r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to send close notice")
	}
}

// CancelClosure cancels pending close timers: the auto slot when
// autoClose or all, the manual slot when !autoClose or all. The
// persisted closure record is removed if present. Cancelling an
// already-fired timer has no effect on its running close batch.
func (t *Thread) CancelClosure(ctx context.Context, autoClose, all bool) {
	cancelled := false

	t.mu.Lock()
	if t.closeTimer != nil && (!autoClose || all) {
		t.closeTimer.Stop()
		t.closeTimer = nil
		cancelled = true
	}
	if t.autoCloseTimer != nil && (autoClose || all) {
		t.autoCloseTimer.Stop()
		t.autoCloseTimer = nil
		cancelled = true
	}
	t.mu.Unlock()

	r := t.reg
	if r.settings.DeleteClosure(t.id) {
		if err := r.settings.Update(ctx); err != nil {
			r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to remove closure record")
		}
	}
	if cancelled {
		metrics.ClosesCancelled.Inc()
		r.events.Publish(events.Event{
			Type:        events.TypeCloseCancelled,
			ThreadID:    t.id,
			ChannelID:   t.channelID(),
			RecipientID: t.id,
		})
	}
}

// restartAutoClose arms (or re-arms) the inactivity close from the
// configured duration. An absent or malformed duration disables
// auto-close; the malformed value is purged by the settings store.
func (t *Thread) restartAutoClose(ctx context.Context) error {
	r := t.reg
	timeout, ok := r.settings.Duration(settings.KeyThreadAutoClose)
	if !ok {
		return nil
	}

	message := r.settings.String(settings.KeyThreadAutoCloseResponse)
	switch markers := strings.Count(message, "%t"); {
	case markers == 1:
		message = strings.Replace(message, "%t", humanDuration(timeout), 1)
	case markers > 1:
		// Historical quirk kept on purpose: multiple markers warn and
		// none are substituted.
		r.log.Warn().Msg("thread_auto_close_response should contain a single %t time marker")
	}

	return t.Close(ctx, CloseOptions{
		Closer:        r.dir.BotUser(),
		After:         timeout,
		Message:       message,
		DeleteChannel: true,
		AutoClose:     true,
	})
}
