// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline wires one tutor conversation end to end: prompt building,
// the streaming transport, delivery batching, finalization, and persistence.
//
// One Pipeline owns one conversation. It is the only writer of that
// conversation's durable state; the UI holds read-only snapshots delivered
// through the update callback and never saves directly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmgcc/quizmaster-ai/internal/bank"
	"github.com/kmgcc/quizmaster-ai/internal/batch"
	"github.com/kmgcc/quizmaster-ai/internal/model"
	"github.com/kmgcc/quizmaster-ai/internal/prompt"
	"github.com/kmgcc/quizmaster-ai/internal/provider"
	"github.com/kmgcc/quizmaster-ai/internal/sanitize"
	"github.com/kmgcc/quizmaster-ai/internal/store"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the per-conversation exchange state.
//
// Idle -> Sending -> Streaming -> Finalizing -> Idle, with the error path
// rejoining at Idle. At most one exchange is in flight: Send while anything
// but Idle is a no-op, never queued.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFinalizing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Pipeline. Everything is passed in explicitly at
// construction; nothing is read from global state during a send.
type Options struct {
	Client  *provider.Client
	Store   *store.Store
	Meta    *bank.Meta            // bank metadata, optional
	Context *bank.QuestionContext // question context, optional
	Persona *prompt.Persona       // operator persona, optional

	// Mode selects the delivery contract for streamed text.
	Mode batch.Mode
	// FlushInterval is the rendering tick; zero uses the batch default.
	FlushInterval time.Duration

	// OnUpdate receives a message-list snapshot after every visible change.
	OnUpdate func([]model.Message)
	// OnComplete receives the final message list when an exchange reaches
	// done or error, letting the grading/review UI mirror the conversation.
	OnComplete func([]model.Message)

	Logger zerolog.Logger
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline orchestrates request/response cycles for one conversation.
type Pipeline struct {
	mu sync.Mutex

	opts       Options
	topicID    string
	subTopicID string

	conv    *model.Conversation
	state   State
	cancel  context.CancelFunc
	batcher *batch.Batcher

	log zerolog.Logger
}

// New creates a pipeline for the conversation keyed by (topicID, subTopicID).
func New(topicID, subTopicID string, opts Options) *Pipeline {
	return &Pipeline{
		opts:       opts,
		topicID:    topicID,
		subTopicID: subTopicID,
		log: opts.Logger.With().
			Str("topic", topicID).
			Str("subtopic", subTopicID).
			Logger(),
	}
}

// State returns the current exchange state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Messages returns a snapshot of the current message list.
func (p *Pipeline) Messages() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conv == nil {
		return nil
	}
	return p.conv.Snapshot()
}

// =============================================================================
// OPEN
// =============================================================================

// Open loads the persisted conversation, or starts a fresh one. A fresh
// conversation gets its greeting synthesized once and persisted immediately,
// so a reload does not regenerate it.
func (p *Pipeline) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conv, err := p.opts.Store.Load(p.topicID, p.subTopicID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		conv = model.NewConversation(p.topicID, p.subTopicID)
	case err != nil:
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	p.conv = conv

	if len(p.conv.Messages) == 0 {
		p.conv.Append(model.NewAssistantMessage(p.greeting()))
		if err := p.saveLocked(); err != nil {
			return err
		}
	}

	p.notifyLocked()
	return nil
}

// greeting builds the synthesized first message.
func (p *Pipeline) greeting() string {
	name := "your study tutor"
	if p.opts.Persona != nil && p.opts.Persona.Name != "" {
		name = p.opts.Persona.Name
	}
	return fmt.Sprintf("Hi! I'm %s. Ask me anything about this question and I'll help you work through it.", name)
}

// =============================================================================
// SEND
// =============================================================================

// Send starts one exchange for the given user text.
//
// Blank text is ignored. A send while an exchange is already in flight is a
// no-op, never queued. A missing provider credential fails immediately with
// provider.ErrNotConfigured before anything is appended or sent.
func (p *Pipeline) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(sanitize.Clean(text))
	if text == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		p.log.Debug().Stringer("state", p.state).Msg("send ignored, exchange in flight")
		return nil
	}
	return p.sendLocked(ctx, text)
}

// sendLocked runs the Sending transition. Caller holds the lock and has
// sanitized text.
func (p *Pipeline) sendLocked(ctx context.Context, text string) error {
	if p.conv == nil {
		return errors.New("pipeline not opened")
	}
	if !p.opts.Client.IsConfigured() {
		// Configuration failure: surfaced immediately, no network request,
		// not persisted as a message.
		return provider.ErrNotConfigured
	}

	p.state = StateSending
	p.log.Debug().Msg("exchange started")

	// The user message is persisted right away so it survives even if the
	// answer fails.
	p.conv.Append(model.NewUserMessage(text))
	if err := p.saveLocked(); err != nil {
		p.state = StateIdle
		return err
	}

	// Context is rebuilt from current settings every exchange; persona edits
	// apply to the next message without a new conversation.
	system := prompt.Build(p.opts.Meta, p.opts.Context, p.opts.Persona)
	messages := prompt.Messages(system, p.conv.Messages)

	// Streaming placeholder: visible, not yet persisted.
	p.conv.Append(model.NewStreamingMessage())
	p.state = StateStreaming
	p.notifyLocked()

	p.batcher = batch.NewWithInterval(p.opts.Mode, p.opts.FlushInterval, p.applyUpdate)

	streamCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.run(streamCtx, messages, p.batcher)
	return nil
}

// run drives one streaming exchange. It owns no lock on entry.
func (p *Pipeline) run(ctx context.Context, messages []provider.ChatMessage, b *batch.Batcher) {
	err := p.opts.Client.Stream(ctx, messages, b.Add)

	// Drain before finalizing so no trailing text is lost; the batcher
	// callback takes the pipeline lock, so this must happen outside it.
	b.FlushNow()

	p.finalize(err)
}

// applyUpdate is the batcher's consumer callback: it folds a coalesced
// payload into the streaming placeholder and publishes a snapshot.
func (p *Pipeline) applyUpdate(payload string) {
	p.mu.Lock()
	msg := p.conv.Streaming()
	if msg == nil {
		p.mu.Unlock()
		return
	}
	if p.opts.Mode == batch.Snapshot {
		msg.Text = payload
	} else {
		msg.Text += payload
	}
	snap := p.conv.Snapshot()
	p.mu.Unlock()

	p.publish(snap)
}

// finalize completes the exchange: done on success, a user-facing error
// message otherwise. Either way the full conversation is persisted so the
// outcome is visible on reload.
func (p *Pipeline) finalize(streamErr error) {
	p.mu.Lock()

	p.state = StateFinalizing
	p.cancel = nil
	p.batcher = nil

	msg := p.conv.Streaming()
	if msg == nil {
		// Cleared or torn down mid-exchange; nothing to finalize.
		p.state = StateIdle
		p.mu.Unlock()
		return
	}

	if streamErr != nil {
		// Partial text is discarded in favor of the error: a half answer
		// presented as complete is worse than a visible failure.
		msg.Text = userFacing(streamErr)
		msg.Status = model.StatusError
		p.log.Warn().Err(streamErr).Msg("exchange failed")
	} else {
		msg.Text = sanitize.Clean(msg.Text)
		msg.Status = model.StatusDone
		p.log.Debug().Int("chars", len(msg.Text)).Msg("exchange complete")
	}

	if err := p.saveLocked(); err != nil {
		p.log.Error().Err(err).Msg("failed to persist conversation")
	}

	p.state = StateIdle
	snap := p.conv.Snapshot()
	p.mu.Unlock()

	p.publish(snap)
	if p.opts.OnComplete != nil {
		p.opts.OnComplete(snap)
	}
}

// userFacing turns a stream failure into the assistant-message error text.
func userFacing(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "The answer was cancelled before it finished."
	case errors.Is(err, context.DeadlineExceeded):
		return "The provider took too long to answer. Use retry to ask again."
	default:
		return fmt.Sprintf("Something went wrong while generating the answer: %v. Use retry to ask again.", err)
	}
}

// =============================================================================
// RETRY
// =============================================================================

// Retry replays the most recent user turn: every message after (and
// including) the last user message is removed, the trimmed history is
// persisted, and that user text is sent again. Retry during an in-flight
// exchange is a no-op.
func (p *Pipeline) Retry(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle || p.conv == nil {
		return nil
	}

	idx := p.conv.LastUserIndex()
	if idx < 0 {
		return nil
	}
	text := p.conv.Messages[idx].Text

	p.conv.TruncateAfter(idx - 1)
	if err := p.saveLocked(); err != nil {
		return err
	}
	p.notifyLocked()

	return p.sendLocked(ctx, text)
}

// =============================================================================
// CLEAR
// =============================================================================

// Clear deletes the persisted conversation and resets in-memory state. The
// caller is responsible for having confirmed the action with the user. Any
// in-flight exchange is cancelled first. The greeting is synthesized anew,
// exactly as on first open.
func (p *Pipeline) Clear() error {
	p.abort()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.opts.Store.Clear(p.topicID, p.subTopicID); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}

	p.conv = model.NewConversation(p.topicID, p.subTopicID)
	p.conv.Append(model.NewAssistantMessage(p.greeting()))
	if err := p.saveLocked(); err != nil {
		return err
	}

	p.notifyLocked()
	return nil
}

// =============================================================================
// TEARDOWN
// =============================================================================

// Close tears the pipeline down: the in-flight request is aborted and the
// pending scheduled flush is cancelled so it cannot fire against a destroyed
// consumer.
func (p *Pipeline) Close() {
	p.abort()
}

// abort cancels the in-flight exchange, if any, without holding the lock
// across batcher calls.
func (p *Pipeline) abort() {
	p.mu.Lock()
	cancel := p.cancel
	b := p.batcher
	p.cancel = nil
	p.batcher = nil
	p.mu.Unlock()

	if b != nil {
		b.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// saveLocked persists the current message list. Caller holds the lock.
// Sanitization happened when each text was finalized; the store receives the
// complete list and replaces the stored record wholesale.
func (p *Pipeline) saveLocked() error {
	return p.opts.Store.Save(p.topicID, p.subTopicID, p.conv.Messages)
}

// notifyLocked publishes a snapshot while holding the lock. The callback
// must not call back into the pipeline, same contract as a batch consumer.
func (p *Pipeline) notifyLocked() {
	if p.opts.OnUpdate == nil {
		return
	}
	p.opts.OnUpdate(p.conv.Snapshot())
}

// publish delivers a snapshot outside the lock.
func (p *Pipeline) publish(snap []model.Message) {
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(snap)
	}
}
