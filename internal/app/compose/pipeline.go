// Package compose turns a user compose action into zero-or-more network
// calls: upload the attachment when present, then dispatch the message. One
// attempt may be in flight per compose surface; a second attempt while one
// is uploading or sending is rejected, not queued.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"crmsync/internal/domain/chat"
)

// State tags the send attempt lifecycle.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateSending
	StateFailed
)

var (
	// ErrBusy rejects a send started while a previous one is mid-flight.
	ErrBusy = errors.New("compose: send already in flight")
	// ErrEmptyDraft rejects a send with neither text nor attachment.
	ErrEmptyDraft = errors.New("compose: nothing to send")
)

// Attachment is a file or recorded blob waiting to be uploaded.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Uploaded is the durable result of a media upload.
type Uploaded struct {
	URL      string
	Filename string
	MimeType string
}

// Uploader is the external media-upload collaborator.
type Uploader interface {
	Upload(ctx context.Context, att Attachment) (Uploaded, error)
}

// Sender is the external message-send collaborator.
type Sender interface {
	SendMessage(ctx context.Context, out chat.Outgoing) (chat.Message, error)
}

// ReplyTarget is the message the user is replying to, carried into the
// dispatch as its reply-reference id.
type ReplyTarget struct {
	MessageID int64
	Kind      chat.MediaKind
	Preview   string
}

// Pipeline is one compose surface's send state machine:
// idle → (uploading when an attachment is present) → sending → settled or
// failed. On failure the draft stays intact so the user can retry without
// retyping. Safe for concurrent use.
type Pipeline struct {
	uploader Uploader
	sender   Sender
	logger   *slog.Logger

	// OnSettled fires after a successful dispatch, with the settled
	// message. The caller reloads the timeline and refreshes the
	// directory there; the pipeline never writes into the timeline.
	OnSettled func(msg chat.Message)

	mu       sync.Mutex
	state    State
	text     string
	subject  string
	att      *Attachment
	reply    *ReplyTarget
	lastErr  error
}

// New builds an idle pipeline.
func New(uploader Uploader, sender Sender, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{uploader: uploader, sender: sender, logger: logger}
}

// SetText replaces the draft text.
func (p *Pipeline) SetText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = text
}

// SetSubject replaces the draft subject (email channel only).
func (p *Pipeline) SetSubject(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = subject
}

// Attach replaces the draft attachment.
func (p *Pipeline) Attach(att Attachment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.att = &att
}

// ClearAttachment drops the draft attachment.
func (p *Pipeline) ClearAttachment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.att = nil
}

// SetReply marks the message being replied to.
func (p *Pipeline) SetReply(target ReplyTarget) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = &target
}

// ClearReply drops the reply target.
func (p *Pipeline) ClearReply() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = nil
}

// State returns the current attempt state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the error of the most recent failed attempt, nil after
// a successful send.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Draft returns the current text, attachment presence and reply target, for
// rendering the compose surface.
func (p *Pipeline) Draft() (text string, hasAttachment bool, reply *ReplyTarget) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text, p.att != nil, p.reply
}

// Send validates the draft and runs the upload-then-dispatch sequence for
// the given conversation. It blocks until settled or failed; run it on its
// own goroutine from UI code.
func (p *Pipeline) Send(ctx context.Context, conversationID int64) error {
	p.mu.Lock()
	if p.state == StateUploading || p.state == StateSending {
		p.mu.Unlock()
		return ErrBusy
	}
	text := strings.TrimSpace(p.text)
	att := p.att
	reply := p.reply
	subject := p.subject
	if text == "" && att == nil {
		p.mu.Unlock()
		return ErrEmptyDraft
	}
	if att != nil {
		p.state = StateUploading
	} else {
		p.state = StateSending
	}
	p.mu.Unlock()

	out := chat.Outgoing{ConversationID: conversationID, Body: text, Subject: subject}
	if reply != nil {
		out.ReplyToID = reply.MessageID
	}

	if att != nil {
		uploaded, err := p.uploader.Upload(ctx, *att)
		if err != nil {
			return p.fail(conversationID, fmt.Errorf("upload attachment: %w", err))
		}
		caption := text
		if caption == "" {
			caption = uploaded.Filename
		}
		out.Body = ""
		out.Media = &chat.MediaRef{
			URL:      uploaded.URL,
			MimeType: uploaded.MimeType,
			Kind:     chat.KindFromMime(uploaded.MimeType),
			Filename: uploaded.Filename,
			Caption:  caption,
		}
		p.mu.Lock()
		p.state = StateSending
		p.mu.Unlock()
	}

	msg, err := p.sender.SendMessage(ctx, out)
	if err != nil {
		return p.fail(conversationID, fmt.Errorf("send message: %w", err))
	}

	p.mu.Lock()
	p.state = StateIdle
	p.text = ""
	p.subject = ""
	p.att = nil
	p.reply = nil
	p.lastErr = nil
	onSettled := p.OnSettled
	p.mu.Unlock()

	if onSettled != nil {
		onSettled(msg)
	}
	return nil
}

// fail records the failure and keeps the draft for retry.
func (p *Pipeline) fail(conversationID int64, err error) error {
	p.logger.Error("send pipeline failed", "conversation_id", conversationID, "error", err)
	p.mu.Lock()
	p.state = StateFailed
	p.lastErr = err
	p.mu.Unlock()
	return err
}
