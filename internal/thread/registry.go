package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/threadmail/threadmail/internal/chat"
	"github.com/threadmail/threadmail/internal/events"
	"github.com/threadmail/threadmail/internal/logstore"
	"github.com/threadmail/threadmail/internal/metrics"
	"github.com/threadmail/threadmail/internal/settings"
	"github.com/threadmail/threadmail/internal/task"
)

// LogClient is the conversation-log surface the registry and its
// threads depend on.
type LogClient interface {
	CreateLogEntry(ctx context.Context, recipient *chat.User, channel *chat.Channel, creator *chat.User) (string, error)
	UserLogs(ctx context.Context, userID int64) ([]logstore.Summary, error)
	AppendLog(ctx context.Context, msg *chat.Message, channelID int64, msgType string) error
	PostLog(ctx context.Context, channelID int64, payload logstore.ClosePayload) (*logstore.Posted, error)
	URL(key string) string
}

// Deps wires the registry's collaborators. Client, Directory, Logs and
// Settings are required; the rest default to inert implementations.
type Deps struct {
	Client    chat.Client
	Directory chat.Directory
	Logs      LogClient
	Settings  *settings.Store
	Events    events.Publisher
	Tasks     *task.Runner
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Registry indexes live threads by recipient id. All lookups and
// creations go through it so a recipient never has two threads.
type Registry struct {
	client   chat.Client
	dir      chat.Directory
	logs     LogClient
	settings *settings.Store
	events   events.Publisher
	tasks    *task.Runner
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	threads map[int64]*Thread
}

// NewRegistry builds a registry from deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Tasks == nil {
		deps.Tasks = task.NewRunner(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		client:   deps.Client,
		dir:      deps.Directory,
		logs:     deps.Logs,
		settings: deps.Settings,
		events:   deps.Events,
		tasks:    deps.Tasks,
		log:      deps.Logger,
		now:      deps.Now,
		threads:  make(map[int64]*Thread),
	}
}

// FindQuery identifies a thread either by its recipient or by a staff
// channel. Exactly one of the identities should be set; Channel wins
// when both are.
type FindQuery struct {
	Recipient   *chat.User
	RecipientID int64
	Channel     *chat.Channel
}

// List snapshots the live threads.
func (r *Registry) List() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, t)
	}
	return out
}

func (r *Registry) lookup(id int64) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	return t, ok
}

func (r *Registry) insert(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[t.id] = t
	metrics.ThreadsOpen.Set(float64(len(r.threads)))
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; ok {
		delete(r.threads, id)
		metrics.ThreadsOpen.Set(float64(len(r.threads)))
	}
}

// Find resolves a live thread, or nil when none exists. Cached entries
// whose bound channel was deleted out from under the bridge are closed
// silently and reported as a miss; an entry still mid-setup is never
// considered stale. On a cache miss the guild's channels are scanned
// for the recipient's topic encoding and a matching channel is adopted
// as an already-ready thread.
func (r *Registry) Find(ctx context.Context, q FindQuery) (*Thread, error) {
	if q.Channel != nil {
		return r.findFromChannel(ctx, q.Channel)
	}

	id := q.RecipientID
	if q.Recipient != nil {
		id = q.Recipient.ID
	}
	if id == 0 {
		return nil, errors.New("thread: find requires a recipient or channel")
	}

	if t, ok := r.lookup(id); ok {
		channel := t.Channel()
		if channel == nil {
			return t, nil
		}
		if _, err := r.client.Channel(ctx, channel.ID); errors.Is(err, chat.ErrNotFound) {
			r.log.Info().Int64("thread_id", id).Int64("channel_id", channel.ID).
				Msg("bound channel gone, thread closed as stale")
			r.tasks.Go(ctx, "thread.stale-close", func(ctx context.Context) error {
				return t.closeNow(ctx, CloseOptions{Closer: r.dir.BotUser(), Silent: true}, false)
			})
			return nil, nil
		}
		return t, nil
	}
	return r.adoptByTopic(ctx, id, q.Recipient)
}

// adoptByTopic scans guild channels for one whose topic encodes id and
// reconstructs a ready thread around it.
func (r *Registry) adoptByTopic(ctx context.Context, id int64, recipient *chat.User) (*Thread, error) {
	channels, err := r.client.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("thread: list channels: %w", err)
	}
	for _, ch := range channels {
		if matchUserID(ch.Topic) != id {
			continue
		}
		if recipient == nil {
			user, err := r.dir.User(ctx, id)
			if err != nil {
				r.log.Warn().Int64("thread_id", id).Err(err).Msg("recipient unresolvable during channel adoption")
			} else {
				recipient = user
			}
		}

		r.mu.Lock()
		if existing, ok := r.threads[id]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		t := newThread(r, id, recipient, ch)
		r.threads[id] = t
		metrics.ThreadsOpen.Set(float64(len(r.threads)))
		r.mu.Unlock()

		t.markReady()
		return t, nil
	}
	return nil, nil
}

// findFromChannel resolves the thread bound to a staff channel. The
// topic encoding is authoritative; when the topic was wiped, bridge
// messages in the channel's recent history are scanned for a footer
// carrying the recipient id. A deleted channel is a plain miss.
func (r *Registry) findFromChannel(ctx context.Context, channel *chat.Channel) (*Thread, error) {
	id := matchUserID(channel.Topic)
	if id == 0 {
		history, err := r.client.History(ctx, chat.ToChannel(channel.ID), 100)
		if errors.Is(err, chat.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("thread: channel history: %w", err)
		}
		bot := r.dir.BotUser()
		for _, msg := range history {
			// Only bridge-authored messages carry the identity footer.
			// A zero author means the transport did not attribute the
			// message and it is scanned anyway.
			if bot != nil && msg.Author.ID != 0 && msg.Author.ID != bot.ID {
				continue
			}
			for _, embed := range msg.Embeds {
				if embed.Footer == nil {
					continue
				}
				if found := matchUserID(embed.Footer.Text); found != 0 {
					id = found
					break
				}
			}
			if id != 0 {
				break
			}
		}
	}
	if id == 0 {
		return nil, nil
	}

	if t, ok := r.lookup(id); ok {
		return t, nil
	}

	var recipient *chat.User
	if user, err := r.dir.User(ctx, id); err == nil {
		recipient = user
	}

	r.mu.Lock()
	if existing, ok := r.threads[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	t := newThread(r, id, recipient, channel)
	r.threads[id] = t
	metrics.ThreadsOpen.Set(float64(len(r.threads)))
	r.mu.Unlock()

	t.markReady()
	return t, nil
}

// Create registers a new not-ready thread for recipient and starts its
// setup in the background. Automated accounts are refused. The cache
// insert is synchronous, so a concurrent Find observes the thread
// before its channel exists.
func (r *Registry) Create(ctx context.Context, recipient *chat.User, creator *chat.User, category string) (*Thread, error) {
	if recipient == nil {
		return nil, errors.New("thread: create requires a recipient")
	}
	if recipient.Bot {
		return nil, fmt.Errorf("thread: cannot open a thread for bot account %d", recipient.ID)
	}

	r.mu.Lock()
	if existing, ok := r.threads[recipient.ID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	t := newThread(r, recipient.ID, recipient, nil)
	r.threads[recipient.ID] = t
	metrics.ThreadsOpen.Set(float64(len(r.threads)))
	r.mu.Unlock()

	r.tasks.Go(ctx, "thread.setup", func(ctx context.Context) error {
		return t.Setup(ctx, creator, category)
	})
	return t, nil
}

// FindOrCreate resolves recipient's thread, creating one on a miss.
func (r *Registry) FindOrCreate(ctx context.Context, recipient *chat.User, creator *chat.User, category string) (*Thread, error) {
	t, err := r.Find(ctx, FindQuery{Recipient: recipient})
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}
	return r.Create(ctx, recipient, creator, category)
}

// channelName derives a collision-free slug for recipient's channel
// from the live channel listing.
func (r *Registry) channelName(ctx context.Context, recipient *chat.User) (string, error) {
	channels, err := r.client.Channels(ctx)
	if err != nil {
		return "", fmt.Errorf("thread: list channels: %w", err)
	}
	existing := make(map[string]bool, len(channels))
	for _, ch := range channels {
		existing[ch.Name] = true
	}
	return formatChannelName(recipient, existing), nil
}

// infoEmbed builds the introductory embed pinned at the top of a new
// thread channel: account age, membership, role and history summary.
func (r *Registry) infoEmbed(ctx context.Context, recipient *chat.User, logURL string, logCount int) *chat.Embed {
	st := r.settings
	now := r.now()

	member, err := r.dir.Member(ctx, recipient.ID)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		r.log.Warn().Int64("user_id", recipient.ID).Err(err).Msg("member lookup failed for info embed")
	}

	created := int(now.Sub(recipient.CreatedAt).Hours() / 24)
	desc := fmt.Sprintf("%s was created %s", recipient.Mention(), daysAgo(created))
	if member != nil && !member.JoinedAt.IsZero() {
		joined := int(now.Sub(member.JoinedAt).Hours() / 24)
		desc += fmt.Sprintf(", joined %s", daysAgo(joined))
	}
	if logCount > 0 {
		desc += fmt.Sprintf(" with **%d** past %s.", logCount, plural(logCount, "thread"))
	} else {
		desc += "."
	}

	embed := &chat.Embed{
		Color:       st.Color(settings.KeyMainColor, 0x7289DA),
		Description: desc,
		Timestamp:   now,
		Author: &chat.EmbedAuthor{
			Name:    recipient.String(),
			IconURL: recipient.AvatarURL,
			URL:     logURL,
		},
	}

	footer := fmt.Sprintf("User ID: %d", recipient.ID)
	if member != nil {
		if member.Nick != "" {
			embed.AddField("Nickname", member.Nick)
		}
		if len(member.Roles) > 0 {
			embed.AddField("Roles", strings.Join(member.Roles, ", "))
		}
	} else {
		footer += " • (not in main server)"
	}
	embed.Footer = &chat.EmbedFooter{Text: footer}

	mutual, err := r.dir.MutualGuilds(ctx, recipient.ID)
	if err != nil {
		r.log.Warn().Int64("user_id", recipient.ID).Err(err).Msg("mutual guild lookup failed for info embed")
	} else if member == nil || len(mutual) > 1 {
		if len(mutual) > 0 {
			embed.AddField(fmt.Sprintf("Mutual %s", plural(len(mutual), "Server")), strings.Join(mutual, ", "))
		}
	}
	return embed
}
