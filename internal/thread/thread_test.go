package thread

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/threadmail/threadmail/internal/chat"
	"github.com/threadmail/threadmail/internal/logstore"
	"github.com/threadmail/threadmail/internal/settings"
	"github.com/threadmail/threadmail/internal/task"
	"github.com/threadmail/threadmail/internal/testutil"
)

type env struct {
	t        *testing.T
	client   *chat.InMemoryClient
	dir      *chat.InMemoryDirectory
	settings *settings.Store
	logs     *logstore.Store
	tasks    *task.Runner
	reg      *Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zerolog.Nop()

	st, err := settings.Open(settings.MemoryDSN, logger)
	if err != nil {
		t.Fatalf("failed to open settings store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logs, err := logstore.Open(logstore.MemoryDSN, logger, logstore.WithBaseURL(func() string {
		return st.String(settings.KeyLogURL)
	}))
	if err != nil {
		t.Fatalf("failed to open log store: %v", err)
	}
	t.Cleanup(func() { _ = logs.Close() })

	client := chat.NewInMemoryClient()
	dir := chat.NewInMemoryDirectory(&chat.User{ID: 1, Name: "threadmail", Discriminator: "0000", Bot: true})
	tasks := task.NewRunner(logger)

	reg := NewRegistry(Deps{
		Client:    client,
		Directory: dir,
		Logs:      logs,
		Settings:  st,
		Tasks:     tasks,
		Logger:    logger,
	})
	return &env{t: t, client: client, dir: dir, settings: st, logs: logs, tasks: tasks, reg: reg}
}

func (e *env) user(id int64, name string) *chat.User {
	u := &chat.User{ID: id, Name: name, Discriminator: "0001", CreatedAt: time.Now().Add(-48 * time.Hour)}
	e.dir.AddUser(u, "main")
	return u
}

func (e *env) create(u *chat.User) *Thread {
	e.t.Helper()
	th, err := e.reg.Create(context.Background(), u, nil, "")
	if err != nil {
		e.t.Fatalf("failed to create thread: %v", err)
	}
	e.waitReady(th)
	return th
}

func (e *env) waitReady(th *Thread) {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := th.WaitUntilReady(ctx); err != nil {
		e.t.Fatalf("thread never became ready: %v", err)
	}
}

func TestCreateSetsUpChannel(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	th := e.create(u)
	e.tasks.Wait()

	ch := th.Channel()
	if ch == nil {
		t.Fatal("expected a bound channel")
	}
	if ch.Name != "alice-0001" {
		t.Fatalf("expected slug alice-0001, got %q", ch.Name)
	}

	got, err := e.client.Channel(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("channel not found on transport: %v", err)
	}
	if got.Topic != "User ID: 1001" {
		t.Fatalf("unexpected topic %q", got.Topic)
	}

	channelMsgs := e.client.Sent(chat.ToChannel(ch.ID))
	if len(channelMsgs) == 0 {
		t.Fatal("expected an introductory message in the channel")
	}
	if pins := e.client.Pinned(ch.ID); len(pins) != 1 || pins[0] != channelMsgs[0].ID {
		t.Fatalf("expected the introductory message pinned, got %v", pins)
	}

	notices := e.client.Sent(chat.ToUser(u.ID))
	if len(notices) != 1 {
		t.Fatalf("expected one creation notice, got %d", len(notices))
	}
	reactions := e.client.Reactions(notices[0].ID)
	if len(reactions) != 1 || reactions[0] != "\U0001F512" {
		t.Fatalf("expected close-emoji reaction on the notice, got %v", reactions)
	}
}

func TestConcurrentFindOrCreateSingleChannel(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	const workers = 16
	threads := make([]*Thread, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			th, err := e.reg.FindOrCreate(context.Background(), u, nil, "")
			if err != nil {
				t.Errorf("FindOrCreate failed: %v", err)
				return
			}
			threads[i] = th
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if threads[i] != threads[0] {
			t.Fatal("concurrent FindOrCreate returned distinct threads")
		}
	}
	e.waitReady(threads[0])
	e.tasks.Wait()

	channels, err := e.client.Channels(context.Background())
	if err != nil {
		t.Fatalf("failed to list channels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected exactly one channel, got %d", len(channels))
	}
}

func TestSendBlocksUntilReady(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	th, err := e.reg.Create(context.Background(), u, nil, "")
	if err != nil {
		t.Fatalf("failed to create thread: %v", err)
	}

	// Relay before readiness; Send must queue on the readiness gate.
	msg := &chat.Message{Author: *u, Content: "hello staff"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := th.Send(ctx, msg, SendOptions{}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	e.tasks.Wait()

	sent := e.client.Sent(chat.ToChannel(th.Channel().ID))
	if len(sent) < 2 {
		t.Fatalf("expected introductory message then relay, got %d messages", len(sent))
	}
	// The introductory embed is always first.
	if sent[0].Embeds[0].Description == "hello staff" {
		t.Fatal("relay was delivered before the introductory message")
	}
	last := sent[len(sent)-1]
	if last.Embeds[0].Description != "hello staff" {
		t.Fatalf("expected relayed content, got %q", last.Embeds[0].Description)
	}
}

func TestCloseImmediate(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()
	channelID := th.Channel().ID

	err := th.Close(context.Background(), CloseOptions{Closer: mod, DeleteChannel: true})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	e.tasks.Wait()

	if _, err := e.client.Channel(context.Background(), channelID); err == nil {
		t.Fatal("expected the channel deleted")
	}
	if found, _ := e.reg.Find(context.Background(), FindQuery{RecipientID: u.ID}); found != nil {
		t.Fatal("expected the thread gone from the registry")
	}
	if _, ok := e.settings.Closure(u.ID); ok {
		t.Fatal("expected no closure record after an immediate close")
	}

	notices := e.client.Sent(chat.ToUser(u.ID))
	last := notices[len(notices)-1]
	if want := "has closed this thread"; !strings.Contains(last.Embeds[0].Description, want) {
		t.Fatalf("expected close notice containing %q, got %q", want, last.Embeds[0].Description)
	}
}

func TestCloseSilent(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()
	before := len(e.client.Sent(chat.ToUser(u.ID)))

	if err := th.Close(context.Background(), CloseOptions{Closer: mod, Silent: true}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	e.tasks.Wait()

	if after := len(e.client.Sent(chat.ToUser(u.ID))); after != before {
		t.Fatalf("silent close must not notify the recipient (%d -> %d messages)", before, after)
	}
}

func TestSelfCloseUsesSelfCloseResponse(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.Close(context.Background(), CloseOptions{Closer: u}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	e.tasks.Wait()

	notices := e.client.Sent(chat.ToUser(u.ID))
	last := notices[len(notices)-1]
	if want := "You have closed this thread."; last.Embeds[0].Description != want {
		t.Fatalf("expected self-close response, got %q", last.Embeds[0].Description)
	}
}

func TestDelayedCloseWritesRecord(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	err := th.Close(context.Background(), CloseOptions{
		Closer:        mod,
		After:         time.Hour,
		DeleteChannel: true,
		Message:       "see you",
	})
	if err != nil {
		t.Fatalf("delayed close failed: %v", err)
	}

	record, ok := e.settings.Closure(u.ID)
	if !ok {
		t.Fatal("expected a persisted closure record")
	}
	if record.CloserID != mod.ID || !record.DeleteChannel || record.Message != "see you" {
		t.Fatalf("unexpected closure record: %+v", record)
	}
	if record.AutoClose {
		t.Fatal("manual close must not be marked auto")
	}
	if until := time.Until(record.Time); until < 59*time.Minute || until > time.Hour {
		t.Fatalf("closure time not about an hour out: %s", until)
	}

	// The thread is still live until the timer fires.
	if found, _ := e.reg.Find(context.Background(), FindQuery{RecipientID: u.ID}); found != th {
		t.Fatal("thread must stay registered while a close is pending")
	}
}

func TestImmediateCloseSupersedesDelayed(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.Close(context.Background(), CloseOptions{Closer: mod, After: time.Hour}); err != nil {
		t.Fatalf("delayed close failed: %v", err)
	}
	if err := th.Close(context.Background(), CloseOptions{Closer: mod, DeleteChannel: true}); err != nil {
		t.Fatalf("immediate close failed: %v", err)
	}
	e.tasks.Wait()

	if _, ok := e.settings.Closure(u.ID); ok {
		t.Fatal("closure record must be cleared by the immediate close")
	}
	if found, _ := e.reg.Find(context.Background(), FindQuery{RecipientID: u.ID}); found != nil {
		t.Fatal("thread must be gone after the immediate close")
	}
}

func TestDelayedCloseFires(t *testing.T) {
	testutil.SkipIfShort(t)
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()
	channelID := th.Channel().ID

	err := th.Close(context.Background(), CloseOptions{Closer: mod, After: 20 * time.Millisecond, DeleteChannel: true})
	if err != nil {
		t.Fatalf("delayed close failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := e.client.Channel(context.Background(), channelID); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled close never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.tasks.Wait()

	if _, ok := e.settings.Closure(u.ID); ok {
		t.Fatal("closure record must be cleared once the close runs")
	}
}

func TestCancelClosureManualLeavesAuto(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.Close(context.Background(), CloseOptions{Closer: mod, After: time.Hour}); err != nil {
		t.Fatalf("manual close failed: %v", err)
	}
	if err := th.Close(context.Background(), CloseOptions{Closer: mod, After: time.Hour, AutoClose: true}); err != nil {
		t.Fatalf("auto close failed: %v", err)
	}

	th.CancelClosure(context.Background(), false, false)

	th.mu.Lock()
	manual, auto := th.closeTimer, th.autoCloseTimer
	th.mu.Unlock()
	if manual != nil {
		t.Fatal("manual timer must be cancelled")
	}
	if auto == nil {
		t.Fatal("auto timer must survive a manual cancellation")
	}

	// all=true clears everything and is idempotent.
	th.CancelClosure(context.Background(), false, true)
	th.CancelClosure(context.Background(), false, true)

	th.mu.Lock()
	manual, auto = th.closeTimer, th.autoCloseTimer
	th.mu.Unlock()
	if manual != nil || auto != nil {
		t.Fatal("expected both timers cancelled")
	}
}

func TestInboundCancelsPendingManualClose(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.Close(context.Background(), CloseOptions{Closer: mod, After: time.Hour}); err != nil {
		t.Fatalf("delayed close failed: %v", err)
	}

	msg := &chat.Message{Author: *u, Content: "wait, one more thing"}
	if _, err := th.Send(context.Background(), msg, SendOptions{}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	e.tasks.Wait()

	th.mu.Lock()
	manual := th.closeTimer
	th.mu.Unlock()
	if manual != nil {
		t.Fatal("inbound relay must cancel the pending manual close")
	}

	var cancelled bool
	for _, m := range e.client.Sent(chat.ToChannel(th.Channel().ID)) {
		for _, embed := range m.Embeds {
			if embed.Description == "Scheduled close has been cancelled." {
				cancelled = true
			}
		}
	}
	if !cancelled {
		t.Fatal("expected a cancellation notice in the channel")
	}
}

func TestNoteCancelsPendingManualClose(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.moderator(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.Close(context.Background(), CloseOptions{Closer: mod, After: time.Hour}); err != nil {
		t.Fatalf("delayed close failed: %v", err)
	}

	if _, err := th.Note(context.Background(), &chat.Message{Author: *mod, Content: "still looking into this"}); err != nil {
		t.Fatalf("note failed: %v", err)
	}
	e.tasks.Wait()

	th.mu.Lock()
	manual := th.closeTimer
	th.mu.Unlock()
	if manual != nil {
		t.Fatal("a staff note must cancel the pending manual close")
	}

	var cancelled bool
	for _, m := range e.client.Sent(chat.ToChannel(th.Channel().ID)) {
		for _, embed := range m.Embeds {
			if embed.Description == "Scheduled close has been cancelled." {
				cancelled = true
			}
		}
	}
	if !cancelled {
		t.Fatal("expected a cancellation notice in the channel")
	}
}

func TestCloseBatchRunsOnce(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.Close(context.Background(), CloseOptions{Closer: mod}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	e.tasks.Wait()
	notices := len(e.client.Sent(chat.ToUser(u.ID)))

	if err := th.Close(context.Background(), CloseOptions{Closer: mod}); err != nil {
		t.Fatalf("re-entrant close must be a no-op, got %v", err)
	}
	e.tasks.Wait()

	if after := len(e.client.Sent(chat.ToUser(u.ID))); after != notices {
		t.Fatalf("second close re-ran the batch: %d notices before, %d after", notices, after)
	}
}

func TestAutoCloseArmsFromSetting(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	if err := e.settings.Set(settings.KeyThreadAutoClose, "PT2H"); err != nil {
		t.Fatalf("failed to set auto close: %v", err)
	}

	th := e.create(u)
	e.tasks.Wait()

	msg := &chat.Message{Author: *u, Content: "hello"}
	if _, err := th.Send(context.Background(), msg, SendOptions{}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	e.tasks.Wait()

	record, ok := e.settings.Closure(u.ID)
	if !ok {
		t.Fatal("expected an auto-close closure record")
	}
	if !record.AutoClose {
		t.Fatal("expected the record marked auto")
	}
	if want := "2 hours"; !strings.Contains(record.Message, want) {
		t.Fatalf("expected %%t substituted with %q, got %q", want, record.Message)
	}
}

func TestAutoCloseMultipleMarkersLeftAlone(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	if err := e.settings.Set(settings.KeyThreadAutoClose, "PT1H"); err != nil {
		t.Fatalf("failed to set auto close: %v", err)
	}
	if err := e.settings.Set(settings.KeyThreadAutoCloseResponse, "closing in %t, really %t"); err != nil {
		t.Fatalf("failed to set response: %v", err)
	}

	th := e.create(u)
	e.tasks.Wait()

	if err := th.restartAutoClose(context.Background()); err != nil {
		t.Fatalf("restartAutoClose failed: %v", err)
	}

	record, ok := e.settings.Closure(u.ID)
	if !ok {
		t.Fatal("expected an auto-close closure record")
	}
	if record.Message != "closing in %t, really %t" {
		t.Fatalf("multiple markers must not be substituted, got %q", record.Message)
	}
}

func TestAutoCloseDisabledWithoutSetting(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	th := e.create(u)
	e.tasks.Wait()

	if err := th.restartAutoClose(context.Background()); err != nil {
		t.Fatalf("restartAutoClose failed: %v", err)
	}
	th.mu.Lock()
	auto := th.autoCloseTimer
	th.mu.Unlock()
	if auto != nil {
		t.Fatal("auto close must stay disarmed when the duration is unset")
	}
}

func TestCloseDropsMentionViews(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")
	mod := e.user(2001, "mod")

	th := e.create(u)
	e.tasks.Wait()

	e.settings.Subscribe(u.ID, "<@2001>")
	e.settings.AddSquadMember(u.ID, "<@2002>")

	if err := th.Close(context.Background(), CloseOptions{Closer: mod}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	e.tasks.Wait()

	if subs := e.settings.Subscribers(u.ID); len(subs) != 0 {
		t.Fatalf("expected subscriptions dropped, got %v", subs)
	}
	if squad := e.settings.TakeSquad(u.ID); len(squad) != 0 {
		t.Fatalf("expected notification squad dropped, got %v", squad)
	}
}

func TestChannelLimitDegradesSilently(t *testing.T) {
	e := newEnv(t)
	u := e.user(1001, "alice")

	// Operations log channel, then exhaust the budget.
	opsCh, err := e.client.CreateChannel(context.Background(), chat.CreateChannelRequest{Name: "ops-log"})
	if err != nil {
		t.Fatalf("failed to create ops channel: %v", err)
	}
	if err := e.settings.Set(settings.KeyLogChannelID, strconv.FormatInt(opsCh.ID, 10)); err != nil {
		t.Fatalf("failed to set log channel: %v", err)
	}
	e.client.MaxChannels = 1

	th, err := e.reg.Create(context.Background(), u, nil, "")
	if err != nil {
		t.Fatalf("create must not surface channel refusal: %v", err)
	}
	e.tasks.Wait()

	if th.Ready() {
		t.Fatal("a failed setup must not mark the thread ready")
	}
	if found, _ := e.reg.Find(context.Background(), FindQuery{RecipientID: u.ID}); found != nil {
		t.Fatal("expected the thread evicted after channel refusal")
	}

	ops := e.client.Sent(chat.ToChannel(opsCh.ID))
	if len(ops) != 1 || ops[0].Embeds[0].Title != "Error while trying to create a thread" {
		t.Fatalf("expected a failure notice in the ops channel, got %v", ops)
	}
}

func TestCreateRejectsBots(t *testing.T) {
	e := newEnv(t)
	bot := &chat.User{ID: 5005, Name: "robot", Discriminator: "0001", Bot: true}
	e.dir.AddUser(bot, "main")

	if _, err := e.reg.Create(context.Background(), bot, nil, ""); err == nil {
		t.Fatal("expected bot recipients to be refused")
	}
}
