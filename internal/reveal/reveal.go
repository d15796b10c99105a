// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reveal types out a finished reply one character at a time.
//
// Each character is followed by a delay derived from what was just typed:
// short after spaces, long after sentence ends. The animation is a chain of
// single-shot timers; only one is outstanding at any moment.
package reveal

import (
	"math/rand"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultBaseDelay is the per-character delay for ordinary characters.
	DefaultBaseDelay = 20 * time.Millisecond

	// MinDelay is the floor applied to every computed delay.
	MinDelay = 5 * time.Millisecond

	// MaxJitter bounds the random variation applied to ordinary characters.
	MaxJitter = 5 * time.Millisecond
)

// Delay returns the pause after typing r.
func Delay(r rune, base, jitter time.Duration) time.Duration {
	var d time.Duration
	switch {
	case r == '.' || r == '!' || r == '?':
		d = base * 3
	case r == ',':
		d = base * 2
	case r == '\n':
		d = base * 3 / 2
	case unicode.IsSpace(r):
		d = base * 3 / 10
	default:
		d = base + jitter
	}
	if d < MinDelay {
		d = MinDelay
	}
	return d
}

// Timer is the subset of *time.Timer the animator needs.
type Timer interface {
	Stop() bool
}

// =============================================================================
// ANIMATOR
// =============================================================================

// Animator schedules reveals. The zero value uses time.AfterFunc and a
// uniform jitter in [-MaxJitter, MaxJitter].
type Animator struct {
	// Jitter returns the variation for ordinary characters.
	Jitter func() time.Duration

	// AfterFunc arms a single-shot timer.
	AfterFunc func(d time.Duration, f func()) Timer
}

func defaultJitter() time.Duration {
	return time.Duration((rand.Float64()*2 - 1) * float64(MaxJitter))
}

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Reveal starts a reveal with the default animator and returns its cancel
// function.
func Reveal(text string, onUpdate func(prefix string), base time.Duration) (cancel func()) {
	var a Animator
	return a.Start(text, onUpdate, base).Cancel
}

// Start begins revealing text. onUpdate receives the cumulative prefix, one
// character longer each call; the last call receives text itself. The first
// character is delivered before Start returns. Empty text completes
// immediately with no calls.
func (a *Animator) Start(text string, onUpdate func(prefix string), base time.Duration) *Handle {
	return a.Stream(text, func(prefix string, _ bool) { onUpdate(prefix) }, base)
}

// Stream is Start with completion reported by the animator: final is true
// on exactly the call that delivers the whole text. Prefixes are byte
// slices of text, so bytes that are not valid UTF-8 are delivered one at a
// time and unchanged.
func (a *Animator) Stream(text string, onStep func(prefix string, final bool), base time.Duration) *Handle {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	h := &Handle{
		text:      text,
		onStep:    onStep,
		base:      base,
		jitter:    a.Jitter,
		afterFunc: a.AfterFunc,
		done:      make(chan struct{}),
	}
	if h.jitter == nil {
		h.jitter = defaultJitter
	}
	if h.afterFunc == nil {
		h.afterFunc = defaultAfterFunc
	}

	if len(h.text) == 0 {
		h.finish()
		return h
	}
	h.step()
	return h
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle controls one running reveal.
type Handle struct {
	mu        sync.Mutex
	text      string
	offset    int // bytes of text delivered
	count     int // characters delivered
	stopped   bool
	timer     Timer
	onStep    func(prefix string, final bool)
	base      time.Duration
	jitter    func() time.Duration
	afterFunc func(time.Duration, func()) Timer

	done     chan struct{}
	doneOnce sync.Once
}

// step types the next character. The stop flag is checked under the same
// lock that guards onUpdate, so no update runs once Cancel has returned.
func (h *Handle) step() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || h.offset >= len(h.text) {
		return
	}

	typed, size := utf8.DecodeRuneInString(h.text[h.offset:])
	h.offset += size
	h.count++
	final := h.offset == len(h.text)
	h.onStep(h.text[:h.offset], final)

	if final {
		h.timer = nil
		h.finish()
		return
	}
	h.timer = h.afterFunc(Delay(typed, h.base, h.jitter()), h.step)
}

// Cancel stops the reveal. The text is left at whatever prefix was last
// delivered. Calling Cancel more than once, or after completion, is a no-op.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.stopped || h.offset >= len(h.text) {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()
	h.finish()
}

// Done is closed when the reveal completes or is cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Revealed returns how many characters have been delivered.
func (h *Handle) Revealed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Completed reports whether every character was delivered.
func (h *Handle) Completed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset == len(h.text)
}

func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}
