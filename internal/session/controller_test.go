// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatterm/internal/cloud"
	"github.com/jeranaias/chatterm/internal/model"
	"github.com/jeranaias/chatterm/internal/reveal"
	"github.com/jeranaias/chatterm/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type call struct {
	text    string
	history []model.Message
}

// fakeCompleter returns a canned reply. When gate is set, calls block until
// it is closed or the context is cancelled.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []call
	reply string
	err   error
	gate  chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, text string, history []model.Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{text: text, history: history})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", &cloud.NetworkError{Op: "request failed", Err: ctx.Err()}
		}
	}
	return f.reply, f.err
}

func (f *fakeCompleter) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// scheduler is a manually driven timer source for the reveal animator.
type scheduler struct {
	mu      sync.Mutex
	pending []func()
}

type stubTimer struct{}

func (stubTimer) Stop() bool { return true }

func (s *scheduler) AfterFunc(_ time.Duration, f func()) reveal.Timer {
	s.mu.Lock()
	s.pending = append(s.pending, f)
	s.mu.Unlock()
	return stubTimer{}
}

// fire runs the oldest armed callback, stopped or not.
func (s *scheduler) fire() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	f()
	return true
}

func (s *scheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type fixture struct {
	ctrl  *Controller
	comp  *fakeCompleter
	sched *scheduler
	kv    *storage.MemoryKV
	store *storage.ConversationStore
	now   time.Time
}

func newFixture(t *testing.T, comp *fakeCompleter, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		comp:  comp,
		sched: &scheduler{},
		kv:    storage.NewMemoryKV(),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = storage.NewConversationStore(f.kv, storage.WithLogger(zerolog.Nop()))
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithClock(func() time.Time { return f.now }),
		WithAnimator(&reveal.Animator{
			Jitter:    func() time.Duration { return 0 },
			AfterFunc: f.sched.AfterFunc,
		}),
	}
	f.ctrl = NewController(comp, f.store, append(base, opts...)...)
	t.Cleanup(func() { f.ctrl.Close() })
	return f
}

// persisted decodes what is currently in the store.
func (f *fixture) persisted(t *testing.T) []model.Message {
	t.Helper()
	raw, err := f.kv.Get(context.Background(), storage.DefaultKey)
	require.NoError(t, err)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	return msgs
}

// finishReveal fires timers until the turn is idle.
func (f *fixture) finishReveal(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		for f.sched.fire() {
		}
		return !f.ctrl.Busy()
	}, 2*time.Second, 5*time.Millisecond)
}

// waitArmed waits until the reveal has delivered its first character and
// armed the next timer.
func (f *fixture) waitArmed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.sched.armed() > 0 }, 2*time.Second, time.Millisecond)
}

func (f *fixture) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.ctrl.State() == want }, 2*time.Second, time.Millisecond)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_FullTurn(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "Hello!"})

	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.finishReveal(t)

	calls := f.comp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Hi", calls[0].text)
	assert.Empty(t, calls[0].history, "first turn has no history")

	msgs := f.ctrl.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Hi", msgs[0].Content)
	assert.Equal(t, model.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, "Hello!", msgs[1].Content)
	assert.True(t, msgs[1].IsFinal())
	assert.False(t, msgs[1].IsError)
	require.NotNil(t, msgs[1].CreatedAt)
	assert.True(t, msgs[1].CreatedAt.Equal(f.now))

	if diff := cmp.Diff(msgs, f.persisted(t)); diff != "" {
		t.Errorf("persisted state differs (-memory +store):\n%s", diff)
	}
	assert.False(t, f.ctrl.Dirty())
}

func TestSubmit_PlaceholderPersistedWhileAwaiting(t *testing.T) {
	comp := &fakeCompleter{reply: "ok", gate: make(chan struct{})}
	f := newFixture(t, comp)

	require.NoError(t, f.ctrl.Submit(context.Background(), "question"))
	assert.Equal(t, StateAwaiting, f.ctrl.State())
	assert.True(t, f.ctrl.Busy())

	stored := f.persisted(t)
	require.Len(t, stored, 2)
	assert.True(t, stored[1].IsPending)
	assert.Nil(t, stored[1].CreatedAt)

	close(comp.gate)
	f.finishReveal(t)
	assert.Equal(t, "ok", f.ctrl.Snapshot()[1].Content)
}

func TestSubmit_RejectsWhileBusy(t *testing.T) {
	comp := &fakeCompleter{reply: "first", gate: make(chan struct{})}
	f := newFixture(t, comp)

	require.NoError(t, f.ctrl.Submit(context.Background(), "one"))
	assert.ErrorIs(t, f.ctrl.Submit(context.Background(), "two"), ErrBusy)
	assert.Len(t, f.ctrl.Snapshot(), 2)

	close(comp.gate)
	f.waitState(t, StateRevealing)
	assert.ErrorIs(t, f.ctrl.Submit(context.Background(), "three"), ErrBusy)

	f.finishReveal(t)
	require.NoError(t, f.ctrl.Submit(context.Background(), "four"))
	f.finishReveal(t)
	assert.Len(t, f.ctrl.Snapshot(), 4)
}

func TestSubmit_EmptyInput(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "x"})

	for _, in := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, f.ctrl.Submit(context.Background(), in), ErrEmptyInput)
	}
	assert.Empty(t, f.ctrl.Snapshot())
	assert.Empty(t, f.comp.Calls())
}

func TestSubmit_HistoryIsPreSubmission(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "A1"})
	require.NoError(t, f.ctrl.Submit(context.Background(), "Q1"))
	f.finishReveal(t)
	require.NoError(t, f.ctrl.Submit(context.Background(), "Q2"))
	f.finishReveal(t)

	calls := f.comp.Calls()
	require.Len(t, calls, 2)
	hist := calls[1].history
	require.Len(t, hist, 2)
	assert.Equal(t, "Q1", hist[0].Content)
	assert.Equal(t, "A1", hist[1].Content)
}

func TestSubmit_NormalizesToNFC(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "ok"})
	require.NoError(t, f.ctrl.Submit(context.Background(), "cafe\u0301"))
	f.finishReveal(t)

	assert.Equal(t, "caf\u00e9", f.comp.Calls()[0].text)
	assert.Equal(t, "caf\u00e9", f.ctrl.Snapshot()[0].Content)
}

func TestSubmit_ErrorBecomesRecord(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"provider", &cloud.ProviderError{Status: 500, Message: "boom"}, "Failed to get AI response: boom"},
		{"format", &cloud.FormatError{Reason: "no choices"}, "Failed to get AI response: Unexpected API response format"},
		{"config", &cloud.ConfigError{Message: "API key not found."}, "API key not found."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeCompleter{err: tc.err})
			require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
			f.ctrl.Wait()

			msgs := f.ctrl.Snapshot()
			require.Len(t, msgs, 2)
			assert.True(t, msgs[1].IsError)
			assert.True(t, msgs[1].IsFinal())
			assert.Equal(t, tc.want, msgs[1].Content)
			assert.Equal(t, StateIdle, f.ctrl.State())
			assert.Zero(t, f.sched.armed(), "no reveal for failures")
			assert.True(t, f.persisted(t)[1].IsError)
		})
	}
}

func TestSubmit_EmptyReplyFinalizedWithoutReveal(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: ""})
	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.ctrl.Wait()

	msgs := f.ctrl.Snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsFinal())
	assert.False(t, msgs[1].IsError)
	assert.Equal(t, "", msgs[1].Content)
	assert.Zero(t, f.sched.armed())
}

// =============================================================================
// REVEAL
// =============================================================================

func TestReveal_InvalidUTF8ReplyEndsTurn(t *testing.T) {
	comp := &fakeCompleter{reply: "ok\xff"}
	f := newFixture(t, comp)

	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.finishReveal(t)

	msgs := f.ctrl.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ok\xff", msgs[1].Content)
	assert.True(t, msgs[1].IsFinal())
	assert.Equal(t, StateIdle, f.ctrl.State())

	comp.mu.Lock()
	comp.reply = "next"
	comp.mu.Unlock()
	require.NoError(t, f.ctrl.Submit(context.Background(), "again"), "a later turn is accepted")
	f.finishReveal(t)
	assert.Equal(t, "next", f.ctrl.Snapshot()[3].Content)
}

func TestReveal_RecordTracksPrefix(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "abc"})
	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.waitArmed(t)

	reply := f.ctrl.Snapshot()[1]
	assert.Equal(t, "a", reply.Content, "first character is delivered immediately")
	assert.True(t, reply.IsRevealing)
	assert.False(t, reply.IsPending)

	require.True(t, f.sched.fire())
	reply = f.ctrl.Snapshot()[1]
	assert.Equal(t, "ab", reply.Content)
	assert.True(t, reply.IsRevealing)

	require.True(t, f.sched.fire())
	reply = f.ctrl.Snapshot()[1]
	assert.Equal(t, "abc", reply.Content)
	assert.False(t, reply.IsRevealing, "cleared exactly on the last character")
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestReveal_ThrottledPersistenceStillSavesFinal(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "abcdef"}, WithPersistInterval(time.Hour))
	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.waitArmed(t)

	f.sched.fire()
	f.sched.fire()
	assert.Equal(t, "abc", f.ctrl.Snapshot()[1].Content)
	assert.NotEqual(t, "abc", f.persisted(t)[1].Content, "intermediate ticks are throttled")
	assert.True(t, f.ctrl.Dirty())

	f.finishReveal(t)
	stored := f.persisted(t)
	assert.Equal(t, "abcdef", stored[1].Content)
	assert.False(t, stored[1].IsRevealing)
	assert.False(t, f.ctrl.Dirty())
}

func TestReveal_EveryTickPersistedWithoutThrottle(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "xyz"}, WithPersistInterval(0))
	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.waitArmed(t)

	f.sched.fire()
	assert.Equal(t, "xy", f.persisted(t)[1].Content)
}

// =============================================================================
// EDIT
// =============================================================================

func TestEdit_UserMessage(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "reply"})
	require.NoError(t, f.ctrl.Submit(context.Background(), "orignal"))
	f.finishReveal(t)

	before := f.ctrl.Snapshot()
	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.ctrl.Edit(before[0].ID, "  original  "))

	after := f.ctrl.Snapshot()
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, "original", after[0].Content)
	assert.True(t, after[0].IsEdited)
	assert.True(t, after[0].CreatedAt.Equal(f.now))
	assert.Equal(t, before[1], after[1], "reply is left untouched")
	assert.Len(t, f.comp.Calls(), 1, "edit never resubmits")
	assert.Equal(t, "original", f.persisted(t)[0].Content)
}

func TestEdit_Rules(t *testing.T) {
	comp := &fakeCompleter{err: &cloud.ProviderError{Status: 500, Message: "x"}}
	f := newFixture(t, comp)
	require.NoError(t, f.ctrl.Submit(context.Background(), "q"))
	f.ctrl.Wait()
	msgs := f.ctrl.Snapshot()

	assert.ErrorIs(t, f.ctrl.Edit(msgs[1].ID, "text"), ErrNotEditable, "assistant/error record")
	assert.ErrorIs(t, f.ctrl.Edit("nope", "text"), ErrNotFound)
	assert.ErrorIs(t, f.ctrl.Edit(msgs[0].ID, "   "), ErrEmptyInput)

	comp.mu.Lock()
	comp.err = nil
	comp.reply = "ok"
	comp.gate = make(chan struct{})
	comp.mu.Unlock()
	require.NoError(t, f.ctrl.Submit(context.Background(), "again"))
	assert.ErrorIs(t, f.ctrl.Edit(msgs[0].ID, "text"), ErrBusy)
	close(comp.gate)
	f.finishReveal(t)
	assert.NoError(t, f.ctrl.Edit(msgs[0].ID, "text"))
}

func TestEditLast(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "r"})
	assert.ErrorIs(t, f.ctrl.EditLast("x"), ErrNotFound)

	require.NoError(t, f.ctrl.Submit(context.Background(), "one"))
	f.finishReveal(t)
	require.NoError(t, f.ctrl.Submit(context.Background(), "two"))
	f.finishReveal(t)

	require.NoError(t, f.ctrl.EditLast("TWO"))
	msgs := f.ctrl.Snapshot()
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "TWO", msgs[2].Content)
}

// =============================================================================
// CLEAR
// =============================================================================

func TestClear_DuringReveal(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "a long reply"})
	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.waitArmed(t)
	f.sched.fire()

	updates, stop := f.ctrl.Subscribe()
	defer stop()
	<-updates

	f.ctrl.Clear()
	assert.Empty(t, f.ctrl.Snapshot())
	assert.Empty(t, f.persisted(t))
	assert.Equal(t, StateIdle, f.ctrl.State())

	snap := <-updates
	assert.Empty(t, snap.Messages)

	// Timers already armed fire into a cancelled reveal.
	for f.sched.fire() {
	}
	assert.Empty(t, f.ctrl.Snapshot())
	assert.Empty(t, f.persisted(t))
	select {
	case s := <-updates:
		t.Fatalf("unexpected update after clear: %+v", s)
	default:
	}
	f.ctrl.Wait()
}

func TestClear_DiscardsLateCompletion(t *testing.T) {
	comp := &fakeCompleter{reply: "late", gate: make(chan struct{})}
	f := newFixture(t, comp)
	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))

	f.ctrl.Clear()
	close(comp.gate)
	f.ctrl.Wait()
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, f.ctrl.Snapshot())
	assert.Empty(t, f.persisted(t))
	assert.Zero(t, f.sched.armed())

	require.NoError(t, f.ctrl.Submit(context.Background(), "fresh"))
	f.finishReveal(t)
	assert.Len(t, f.ctrl.Snapshot(), 2)
}

func TestClear_Empty(t *testing.T) {
	f := newFixture(t, &fakeCompleter{})
	f.ctrl.Clear()
	assert.Empty(t, f.persisted(t))
}

// =============================================================================
// SUBSCRIBE / CLOSE / LOAD
// =============================================================================

func TestSubscribe_LatestWins(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "hello"})
	updates, stop := f.ctrl.Subscribe()

	first := <-updates
	assert.Empty(t, first.Messages)

	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.finishReveal(t)

	// Many changes happened; only the newest is buffered.
	last := <-updates
	assert.Equal(t, StateIdle, last.State)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "hello", last.Messages[1].Content)
	assert.Greater(t, last.Version, first.Version)

	stop()
	stop()
	_, open := <-updates
	assert.False(t, open)
}

func TestClose(t *testing.T) {
	comp := &fakeCompleter{reply: "never", gate: make(chan struct{})}
	f := newFixture(t, comp)
	updates, _ := f.ctrl.Subscribe()

	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Close())

	assert.ErrorIs(t, f.ctrl.Submit(context.Background(), "x"), ErrClosed)
	assert.ErrorIs(t, f.ctrl.Edit("x", "y"), ErrClosed)
	f.ctrl.Wait()

	msgs := f.ctrl.Snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, InterruptedMessage, msgs[1].Content)
	assert.True(t, msgs[1].IsFinal())

	for range updates {
	}
	closedCh, _ := f.ctrl.Subscribe()
	_, open := <-closedCh
	assert.False(t, open)
}

func TestNewController_LoadsAndRepairs(t *testing.T) {
	kv := storage.NewMemoryKV()
	store := storage.NewConversationStore(kv, storage.WithLogger(zerolog.Nop()))
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Save(context.Background(), []model.Message{
		{ID: "u1", Sender: model.SenderUser, Content: "q1", CreatedAt: &at},
		{ID: "a1", Sender: model.SenderAssistant, Content: "half", CreatedAt: &at, IsRevealing: true},
		{ID: "u2", Sender: model.SenderUser, Content: "q2", CreatedAt: &at},
		{ID: "a2", Sender: model.SenderAssistant, IsPending: true},
	})

	ctrl := NewController(&fakeCompleter{}, store, WithLogger(zerolog.Nop()))
	defer ctrl.Close()

	msgs := ctrl.Snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "half", msgs[1].Content)
	assert.True(t, msgs[1].IsFinal())
	assert.False(t, msgs[1].IsError)
	assert.True(t, msgs[3].IsError)
	assert.Equal(t, InterruptedMessage, msgs[3].Content)
	assert.NotNil(t, msgs[3].CreatedAt)

	stored := store.Load(context.Background())
	if diff := cmp.Diff(msgs, stored); diff != "" {
		t.Errorf("repair not persisted (-memory +store):\n%s", diff)
	}
}

func TestNewController_CleanLoadDoesNotRewrite(t *testing.T) {
	kv := storage.NewMemoryKV()
	raw := []byte(`[{"id":"1","sender":"user","content":"hi"}]`)
	require.NoError(t, kv.Put(context.Background(), storage.DefaultKey, raw))

	ctrl := NewController(&fakeCompleter{}, storage.NewConversationStore(kv, storage.WithLogger(zerolog.Nop())),
		WithLogger(zerolog.Nop()))
	defer ctrl.Close()

	got, err := kv.Get(context.Background(), storage.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(got))
	assert.Len(t, ctrl.Snapshot(), 1)
}

func TestSetCompleterAndDelay(t *testing.T) {
	f := newFixture(t, &fakeCompleter{reply: "old"})
	next := &fakeCompleter{reply: "new"}
	f.ctrl.SetCompleter(next)
	f.ctrl.SetCompleter(nil)
	f.ctrl.SetRevealDelay(time.Millisecond)
	f.ctrl.SetPersistInterval(0)

	require.NoError(t, f.ctrl.Submit(context.Background(), "Hi"))
	f.finishReveal(t)
	assert.Equal(t, "new", f.ctrl.Snapshot()[1].Content)
	assert.Empty(t, f.comp.Calls())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "awaiting", StateAwaiting.String())
	assert.Equal(t, "revealing", StateRevealing.String())
	assert.Equal(t, "unknown", State(42).String())
}
