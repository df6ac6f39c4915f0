// Package syncer wires the realtime pipeline together: broker events flow
// through the topic registry into the reconciliation-by-repull policy, where
// a push is only ever a trigger to re-fetch authoritative state from the
// conversation and message stores, never the state itself.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"crmsync/internal/app/compose"
	"crmsync/internal/app/directory"
	"crmsync/internal/app/readstate"
	"crmsync/internal/app/timeline"
	"crmsync/internal/app/topics"
	"crmsync/internal/domain/chat"
)

const defaultOpTimeout = 15 * time.Second

// Config collects the components the syncer coordinates. All fields are
// required except Pipeline and Logger.
type Config struct {
	Registry  *topics.Registry
	Directory *directory.Directory
	Timeline  *timeline.Timeline
	ReadState *readstate.Reconciler
	Pipeline  *compose.Pipeline
	Logger    *slog.Logger
	// OpTimeout bounds each re-fetch triggered by a push event.
	OpTimeout time.Duration
}

// Syncer coordinates the client core. Constructed by the application root,
// started once, stopped on teardown.
type Syncer struct {
	registry  *topics.Registry
	dir       *directory.Directory
	tl        *timeline.Timeline
	read      *readstate.Reconciler
	pipeline  *compose.Pipeline
	logger    *slog.Logger
	opTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an unstarted syncer.
func New(cfg Config) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Syncer{
		registry:  cfg.Registry,
		dir:       cfg.Directory,
		tl:        cfg.Timeline,
		read:      cfg.ReadState,
		pipeline:  cfg.Pipeline,
		logger:    logger,
		opTimeout: opTimeout,
	}
}

// Start hooks the components together, connects the broker with the global
// inbox topic desired, and performs the initial directory refresh with
// auto-select enabled.
func (s *Syncer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.dir.OnSelect = s.conversationOpened
	s.dir.OnDeselect = s.tl.Clear
	if s.pipeline != nil {
		s.pipeline.OnSettled = s.sendSettled
	}

	s.registry.Ensure(chat.GlobalTopic, s.handleEvent)
	s.registry.Start()

	opCtx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()
	return s.dir.Refresh(opCtx, true)
}

// Stop tears down all subscriptions and aborts in-flight refreshes.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.registry.Teardown()
}

// Open makes a conversation the open one. Returns false for unknown ids.
func (s *Syncer) Open(id int64) bool {
	_, ok := s.dir.Select(id)
	return ok
}

// conversationOpened runs whenever a conversation becomes the open one:
// its topic joins the desired set (and stays there after deselection), the
// timeline is replaced, and unread state reconciles.
func (s *Syncer) conversationOpened(conv chat.Conversation) {
	s.registry.Ensure(chat.ConversationTopic(conv.ID), s.handleEvent)

	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()
	if err := s.tl.Load(ctx, conv.ID); err != nil {
		s.logger.Error("timeline load failed", "conversation_id", conv.ID, "error", err)
	}
	s.read.ConversationOpened(ctx, conv)
}

// sendSettled runs after the pipeline dispatched a message: settlement is
// observed by re-fetching, never by patching the settled message in.
func (s *Syncer) sendSettled(msg chat.Message) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()
	if msg.ConversationID == s.dir.OpenID() {
		if err := s.tl.Load(ctx, msg.ConversationID); err != nil {
			s.logger.Error("timeline reload after send failed", "conversation_id", msg.ConversationID, "error", err)
		}
	}
	if err := s.dir.Refresh(ctx, false); err != nil {
		s.logger.Error("directory refresh after send failed", "error", err)
	}
}

// handleEvent routes one push event. The same event may arrive on both the
// global feed and a per-conversation feed; the repull policy makes the
// duplicate handling harmless.
func (s *Syncer) handleEvent(topic string, data []byte) {
	ev, err := chat.DecodeEvent(data)
	if err != nil {
		s.logger.Warn("dropping undecodable push event", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opTimeout)
	defer cancel()

	open := s.dir.OpenID() == ev.ConversationID

	switch ev.Type {
	case chat.EventNewMessage:
		if open {
			if err := s.tl.Load(ctx, ev.ConversationID); err != nil {
				s.logger.Error("timeline reload on push failed", "conversation_id", ev.ConversationID, "error", err)
			}
			s.read.MessageArrivedWhileOpen(ctx, ev.ConversationID)
		}
	case chat.EventMessageSent:
		if open {
			if err := s.tl.Load(ctx, ev.ConversationID); err != nil {
				s.logger.Error("timeline reload on push failed", "conversation_id", ev.ConversationID, "error", err)
			}
		}
	case chat.EventConversationUpdated:
		// Directory refresh below covers it.
	}

	if err := s.dir.Refresh(ctx, false); err != nil {
		s.logger.Error("directory refresh on push failed", "error", err)
	}
}
