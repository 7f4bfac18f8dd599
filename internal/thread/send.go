package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadmail/threadmail/internal/chat"
	"github.com/threadmail/threadmail/internal/metrics"
	"github.com/threadmail/threadmail/internal/settings"
)

// SendOptions controls how Send renders and routes one relayed
// message.
type SendOptions struct {
	// Destination overrides the default target (the thread's staff
	// channel).
	Destination *chat.Destination

	// FromMod marks the message as authored by staff.
	FromMod bool

	// Note marks the message as a staff-only annotation.
	Note bool

	// Anonymous hides the staff author's identity from the recipient.
	Anonymous bool
}

// Send relays one message into the thread. It re-arms the inactivity
// close, cancels a pending manual close (announcing the cancellation
// in the staff channel), waits for readiness, archives inbound user
// traffic and delivers the formatted embeds. The primary message and
// its image burst are serialized against concurrent sends.
func (t *Thread) Send(ctx context.Context, msg *chat.Message, opts SendOptions) (*chat.Message, error) {
	r := t.reg

	r.tasks.Go(ctx, "thread.autoclose", func(ctx context.Context) error {
		return t.restartAutoClose(ctx)
	})

	if t.pendingManualClose() {
		r.tasks.Go(ctx, "thread.cancel-close", func(ctx context.Context) error {
			t.CancelClosure(ctx, false, false)
			_, err := r.client.SendMessage(ctx, chat.ToChannel(t.channelID()), "", &chat.Embed{
				Color:       colorError,
				Description: "Scheduled close has been cancelled.",
			})
			return err
		})
	}

	if err := t.WaitUntilReady(ctx); err != nil {
		return nil, err
	}

	dest := chat.ToChannel(t.channelID())
	if opts.Destination != nil {
		dest = *opts.Destination
	}

	if !opts.FromMod && !opts.Note {
		logged := *msg
		r.tasks.Go(ctx, "thread.log-append", func(ctx context.Context) error {
			return r.logs.AppendLog(ctx, &logged, t.channelID(), "")
		})
	}

	style := t.relayStyle(ctx, msg, opts, dest)

	mentions := ""
	if !opts.FromMod && !opts.Note {
		mentions = t.Notifications(ctx)
	}

	primary, extras := buildRelayEmbeds(msg, style, r.now())

	t.relayMu.Lock()
	defer t.relayMu.Unlock()

	delivered, err := r.client.SendMessage(ctx, dest, mentions, primary)
	if err != nil {
		return nil, err
	}
	for _, extra := range extras {
		if _, err := r.client.SendMessage(ctx, dest, "", extra); err != nil {
			r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("failed to relay additional image")
		}
	}

	direction := "inbound"
	role := "recipient"
	if opts.FromMod {
		direction = "outbound"
		role = "moderator"
	}
	if opts.Note {
		role = "note"
	}
	metrics.MessagesRelayed.WithLabelValues(direction, role).Inc()

	// With no attachments the source message carries nothing the relay
	// did not copy, so it is removed to keep the channel tidy.
	if len(msg.Attachments) == 0 && msg.ID != 0 && msg.ChannelID != 0 {
		source := chat.ToChannel(msg.ChannelID)
		sourceID := msg.ID
		r.tasks.Go(ctx, "thread.delete-source", func(ctx context.Context) error {
			return r.client.DeleteMessage(ctx, source, sourceID)
		})
	}
	return delivered, nil
}

// relayStyle decides the embed presentation for one message: author
// line, color and footer, matching who wrote it and whether identity
// is masked.
func (t *Thread) relayStyle(ctx context.Context, msg *chat.Message, opts SendOptions, dest chat.Destination) relayStyle {
	st := t.reg.settings
	author := msg.Author

	if opts.Note {
		return relayStyle{
			AuthorName: fmt.Sprintf("Note (%s)", author.String()),
			AuthorIcon: systemAvatarURL,
			Color:      colorNote,
		}
	}

	if !opts.FromMod {
		return relayStyle{
			AuthorName: author.String(),
			AuthorIcon: author.AvatarURL,
			Color:      st.Color(settings.KeyRecipientColor, 0xF1C40F),
			Footer:     "Recipient",
		}
	}

	modTag := st.String(settings.KeyModTag)
	if modTag == "" {
		if member, err := t.reg.dir.Member(ctx, author.ID); err == nil {
			modTag = member.TopRole()
		}
	}
	if modTag == "" {
		modTag = "Moderator"
	}

	style := relayStyle{Color: st.Color(settings.KeyModColor, 0x2ECC71)}
	if opts.Anonymous && dest.UserID != 0 {
		style.AuthorName = st.StringOr(settings.KeyAnonUsername, modTag)
		style.AuthorIcon = st.StringOr(settings.KeyAnonAvatarURL, t.reg.dir.GuildIconURL())
		style.Footer = st.StringOr(settings.KeyAnonTag, "Response")
	} else {
		style.AuthorName = author.String()
		style.AuthorIcon = author.AvatarURL
		style.Footer = modTag
		if opts.Anonymous {
			style.Footer = "Anonymous Reply"
		}
	}
	return style
}

// Reply relays a staff message to the recipient and mirrors it into
// the staff channel. Unreachable recipients are reported in the
// channel rather than returned as errors.
func (t *Thread) Reply(ctx context.Context, msg *chat.Message, anonymous bool) error {
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return ErrMissingContent
	}
	r := t.reg

	shares, err := r.dir.SharesGuild(ctx, t.id)
	if err != nil {
		return fmt.Errorf("thread %d: reachability check: %w", t.id, err)
	}
	if !shares {
		_, err := r.client.SendMessage(ctx, chat.ToChannel(t.channelID()), "", &chat.Embed{
			Color:       colorError,
			Description: "Your message could not be delivered since the recipient shares no servers with the bot.",
		})
		return err
	}

	userDest := chat.ToUser(t.id)
	if _, err := t.Send(ctx, msg, SendOptions{
		Destination: &userDest,
		FromMod:     true,
		Anonymous:   anonymous,
	}); err != nil {
		metrics.DeliveryFailures.Inc()
		r.log.Warn().Int64("thread_id", t.id).Err(err).Msg("reply delivery failed")
		_, err := r.client.SendMessage(ctx, chat.ToChannel(t.channelID()), "", &chat.Embed{
			Color: colorError,
			Description: "Your message could not be delivered as the recipient is " +
				"only accepting direct messages from friends, or the bot was blocked by the recipient.",
		})
		return err
	}

	if _, err := t.Send(ctx, msg, SendOptions{
		FromMod:   true,
		Anonymous: anonymous,
	}); err != nil {
		return fmt.Errorf("thread %d: mirror reply: %w", t.id, err)
	}

	logType := "thread_message"
	if anonymous {
		logType = "anonymous"
	}
	logged := *msg
	r.tasks.Go(ctx, "thread.log-append", func(ctx context.Context) error {
		return r.logs.AppendLog(ctx, &logged, t.channelID(), logType)
	})
	return nil
}

// Note posts a staff-only annotation in the thread channel. Notes are
// archived but never delivered to the recipient.
func (t *Thread) Note(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return nil, ErrMissingContent
	}
	logged := *msg
	t.reg.tasks.Go(ctx, "thread.log-append", func(ctx context.Context) error {
		return t.reg.logs.AppendLog(ctx, &logged, t.channelID(), "system")
	})
	return t.Send(ctx, msg, SendOptions{FromMod: true, Note: true})
}

// Notifications collects the mention string prepended to relayed
// recipient messages: persistent subscribers plus the one-shot
// notification squad, which is consumed.
func (t *Thread) Notifications(ctx context.Context) string {
	st := t.reg.settings
	mentions := st.Subscribers(t.id)
	if squad := st.TakeSquad(t.id); len(squad) > 0 {
		mentions = append(mentions, squad...)
		t.reg.tasks.Go(ctx, "thread.flush-squad", func(ctx context.Context) error {
			return st.Update(ctx)
		})
	}
	return strings.Join(mentions, " ")
}
