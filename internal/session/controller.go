// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives the conversation: one user turn at a time,
// in-place edits, clearing, and change notification for the UI.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatterm/internal/cloud"
	"github.com/jeranaias/chatterm/internal/model"
	"github.com/jeranaias/chatterm/internal/reveal"
	"github.com/jeranaias/chatterm/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyInput is returned for blank submissions and edits.
	ErrEmptyInput = errors.New("message is empty")

	// ErrBusy is returned while a turn is in flight.
	ErrBusy = errors.New("a reply is still in progress")

	// ErrNotEditable is returned when editing an assistant or error record.
	ErrNotEditable = errors.New("message cannot be edited")

	// ErrNotFound is returned for an unknown message id.
	ErrNotFound = errors.New("message not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("conversation closed")
)

// InterruptedMessage replaces a reply that was still awaited when the
// previous process exited.
const InterruptedMessage = "Failed to get AI response: the response was interrupted"

// DefaultPersistInterval throttles saves while a reply is being revealed.
const DefaultPersistInterval = 250 * time.Millisecond

// =============================================================================
// STATE
// =============================================================================

// State is the phase of the current turn.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaiting
	StateRevealing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaiting:
		return "awaiting"
	case StateRevealing:
		return "revealing"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the conversation delivered to
// subscribers.
type Snapshot struct {
	Messages []model.Message
	State    State
	// Version increases with every change.
	Version uint64
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Controller.
type Option func(*Controller)

// WithRevealDelay sets the base per-character reveal delay.
func WithRevealDelay(d time.Duration) Option {
	return func(c *Controller) { c.revealDelay = d }
}

// WithPersistInterval sets the minimum spacing between saves while
// revealing. Zero or negative saves on every character.
func WithPersistInterval(d time.Duration) Option {
	return func(c *Controller) { c.persistInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithAnimator replaces the reveal animator.
func WithAnimator(a *reveal.Animator) Option {
	return func(c *Controller) {
		if a != nil {
			c.animator = a
		}
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// turn tracks one in-flight submission.
type turn struct {
	gen           uint64
	placeholderID string
	cancel        context.CancelFunc
	stop          func()
	persist       *rate.Sometimes
	done          chan struct{}
	doneOnce      sync.Once
}

func (t *turn) finish() {
	t.cancel()
	t.doneOnce.Do(func() { close(t.done) })
}

// Controller owns the conversation and the store it is persisted to.
// All methods are safe for concurrent use.
//
// Callbacks from the completion goroutine and the reveal timers take the
// controller lock. The reveal's own lock is only ever taken after the
// controller lock has been released, never the other way round.
type Controller struct {
	mu sync.Mutex

	completer cloud.Completer
	store     *storage.ConversationStore
	animator  *reveal.Animator
	logger    zerolog.Logger
	now       func() time.Time

	revealDelay     time.Duration
	persistInterval time.Duration

	conv    *model.Conversation
	state   State
	turn    *turn
	gen     uint64
	version uint64
	dirty   bool
	closed  bool

	subs    map[int]chan Snapshot
	nextSub int
}

// NewController loads the persisted conversation and returns a controller
// ready for input. Records left provisional by an earlier process are
// finalized: a partly revealed reply keeps its prefix, a reply that never
// arrived becomes an error record.
func NewController(completer cloud.Completer, store *storage.ConversationStore, opts ...Option) *Controller {
	c := &Controller{
		completer:       completer,
		store:           store,
		animator:        &reveal.Animator{},
		logger:          log.Logger,
		now:             time.Now,
		revealDelay:     reveal.DefaultBaseDelay,
		persistInterval: DefaultPersistInterval,
		subs:            make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "session").Logger()

	loaded := store.Load(context.Background())
	conv, dropped := model.FromMessages(loaded)
	if dropped > 0 {
		c.logger.Warn().Int("dropped", dropped).Msg("discarded invalid records from stored conversation")
	}
	c.conv = conv

	if recovered := c.recoverProvisional(); recovered > 0 || dropped > 0 {
		c.logger.Info().Int("recovered", recovered).Msg("repaired stored conversation")
		c.persistLocked()
	}
	return c
}

func (c *Controller) recoverProvisional() int {
	n := 0
	for _, msg := range c.conv.Messages() {
		if msg.IsFinal() {
			continue
		}
		n++
		c.settleLocked(msg.ID)
	}
	return n
}

// settleLocked finalizes a provisional record: a revealed prefix is kept,
// a reply that never arrived becomes an error record. Callers hold c.mu.
func (c *Controller) settleLocked(id string) {
	at := c.now()
	_ = c.conv.Update(id, func(m *model.Message) {
		if m.IsPending {
			m.IsError = true
			m.Content = InterruptedMessage
		}
		m.IsPending = false
		m.IsRevealing = false
		if m.CreatedAt == nil {
			m.CreatedAt = &at
		}
	})
}

// =============================================================================
// QUERIES
// =============================================================================

// State returns the current turn phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a turn is in flight.
func (c *Controller) Busy() bool {
	return c.State() != StateIdle
}

// Snapshot returns a deep copy of the conversation.
func (c *Controller) Snapshot() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Messages()
}

// Current returns the full current snapshot.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Dirty reports whether the in-memory conversation has changes that have
// not been saved yet.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Messages: c.conv.Messages(),
		State:    c.state,
		Version:  c.version,
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit starts a turn. It appends the user record and a pending reply,
// persists both, and returns; the completion call and the reveal continue
// in the background. ctx bounds the completion call.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateSubmitting

	history := c.conv.Messages()
	user := model.NewUserMessage(text, c.now())
	placeholder := model.NewPlaceholder()
	// Fresh uuids cannot collide with existing records.
	_ = c.conv.Append(user)
	_ = c.conv.Append(placeholder)

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		gen:           c.gen,
		placeholderID: placeholder.ID,
		cancel:        cancel,
		persist:       c.newPersistLimiter(),
		done:          make(chan struct{}),
	}
	c.turn = t
	c.state = StateAwaiting
	c.changedLocked()
	c.persistLocked()
	completer := c.completer
	c.mu.Unlock()

	c.logger.Debug().Str("reply_id", placeholder.ID).Int("history", len(history)).Msg("turn started")
	go c.runTurn(turnCtx, completer, t, text, history)
	return nil
}

func (c *Controller) newPersistLimiter() *rate.Sometimes {
	if c.persistInterval <= 0 {
		return &rate.Sometimes{Every: 1}
	}
	return &rate.Sometimes{Interval: c.persistInterval}
}

// current reports whether t is still the live turn. Callers hold c.mu.
func (c *Controller) current(t *turn) bool {
	return c.turn == t && c.gen == t.gen
}

func (c *Controller) runTurn(ctx context.Context, completer cloud.Completer, t *turn, text string, history []model.Message) {
	reply, err := completer.Complete(ctx, text, history)

	c.mu.Lock()
	if !c.current(t) {
		c.mu.Unlock()
		c.logger.Debug().Msg("discarding result of cleared turn")
		return
	}

	at := c.now()
	if err != nil {
		_ = c.conv.Update(t.placeholderID, func(m *model.Message) {
			m.IsPending = false
			m.IsError = true
			m.Content = cloud.UserMessage(err)
			m.CreatedAt = &at
		})
		c.endTurnLocked(t)
		c.changedLocked()
		c.persistLocked()
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("completion failed")
		return
	}

	if reply == "" {
		_ = c.conv.Update(t.placeholderID, func(m *model.Message) {
			m.IsPending = false
			m.Content = ""
			m.CreatedAt = &at
		})
		c.endTurnLocked(t)
		c.changedLocked()
		c.persistLocked()
		c.mu.Unlock()
		return
	}

	_ = c.conv.Update(t.placeholderID, func(m *model.Message) {
		m.IsPending = false
		m.IsRevealing = true
		m.Content = ""
		m.CreatedAt = &at
	})
	c.state = StateRevealing
	c.changedLocked()
	c.persistLocked()
	delay := c.revealDelay
	animator := c.animator
	c.mu.Unlock()

	// The first character is delivered inside Start, so the lock must not
	// be held here.
	h := animator.Stream(reply, func(prefix string, final bool) {
		c.onReveal(t, prefix, final)
	}, delay)

	c.mu.Lock()
	if c.current(t) && c.state == StateRevealing {
		t.stop = h.Cancel
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h.Cancel()
}

func (c *Controller) onReveal(t *turn, prefix string, final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(t) {
		return
	}
	_ = c.conv.Update(t.placeholderID, func(m *model.Message) {
		m.Content = prefix
		if final {
			m.IsRevealing = false
		}
	})

	if final {
		c.endTurnLocked(t)
		c.changedLocked()
		c.persistLocked()
		return
	}
	c.changedLocked()
	c.dirty = true
	t.persist.Do(c.persistLocked)
}

// endTurnLocked returns to idle. Callers hold c.mu.
func (c *Controller) endTurnLocked(t *turn) {
	c.turn = nil
	c.state = StateIdle
	t.finish()
}

// Wait blocks until the turn in flight, if any, has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	t := c.turn
	c.mu.Unlock()
	if t != nil {
		<-t.done
	}
}

// =============================================================================
// EDIT
// =============================================================================

// Edit replaces the text of a user record in place. The reply that
// followed it is left untouched and nothing is resubmitted.
func (c *Controller) Edit(id, text string) error {
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return ErrBusy
	}
	msg, ok := c.conv.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !msg.Editable() {
		return ErrNotEditable
	}

	at := c.now()
	_ = c.conv.Update(id, func(m *model.Message) {
		m.Content = text
		m.CreatedAt = &at
		m.IsEdited = true
	})
	c.changedLocked()
	c.persistLocked()
	c.logger.Debug().Str("id", id).Msg("message edited")
	return nil
}

// EditLast edits the most recent user record.
func (c *Controller) EditLast(text string) error {
	c.mu.Lock()
	msg, ok := c.conv.LastUserMessage()
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return c.Edit(msg.ID, text)
}

// =============================================================================
// CLEAR AND CLOSE
// =============================================================================

// Clear empties the conversation and persists the empty log. A turn in
// flight is abandoned: its request is cancelled, its reveal stopped, and
// any late result discarded.
func (c *Controller) Clear() {
	c.mu.Lock()
	t, stop := c.abandonLocked()
	c.conv.Reset()
	c.changedLocked()
	c.persistLocked()
	c.mu.Unlock()

	c.release(t, stop)
	c.logger.Debug().Msg("conversation cleared")
}

// Close abandons any turn in flight, saves the conversation as it stands
// and ends every subscription. Further mutations fail with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t, stop := c.abandonLocked()
	if t != nil {
		c.settleLocked(t.placeholderID)
	}
	c.version++
	c.persistLocked()
	c.notifyLocked()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.release(t, stop)
	return nil
}

// abandonLocked detaches the live turn. The caller must call release with
// the results after unlocking.
func (c *Controller) abandonLocked() (*turn, func()) {
	c.gen++
	t := c.turn
	c.turn = nil
	c.state = StateIdle
	if t == nil {
		return nil, nil
	}
	return t, t.stop
}

func (c *Controller) release(t *turn, stop func()) {
	if t == nil {
		return
	}
	if stop != nil {
		stop()
	}
	t.finish()
}

// =============================================================================
// RUNTIME SETTINGS
// =============================================================================

// SetRevealDelay changes the base reveal delay for the next turn.
func (c *Controller) SetRevealDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revealDelay = d
}

// SetPersistInterval changes the save throttle for the next turn.
func (c *Controller) SetPersistInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistInterval = d
}

// SetCompleter swaps the completion client for the next turn.
func (c *Controller) SetCompleter(completer cloud.Completer) {
	if completer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completer = completer
}

// =============================================================================
// PERSISTENCE AND NOTIFICATION
// =============================================================================

// changedLocked bumps the version and notifies subscribers.
func (c *Controller) changedLocked() {
	c.version++
	c.notifyLocked()
}

func (c *Controller) persistLocked() {
	c.store.Save(context.Background(), c.conv.Messages())
	c.dirty = false
}
