// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/morganforge/packmate/internal/api"
	"github.com/morganforge/packmate/internal/history"
	"github.com/morganforge/packmate/internal/identity"
	"github.com/morganforge/packmate/internal/stream"
)

// Texts shown in place of a reply that could not be completed.
const (
	TextStreamFailed   = "Произошла ошибка. Попробуй ещё раз через минуту."
	TextNoReply        = "Ответ не получен. Попробуй ещё раз."
	TextInterrupted    = "Ответ прерван."
	TextSessionExpired = "Сессия истекла. Войди заново."
)

var (
	// ErrInvalidRating rejects ratings other than +1 and -1.
	ErrInvalidRating = errors.New("rating must be 1 or -1")

	// ErrUnknownMessage is returned when rating a message that is not held
	// or has no server id.
	ErrUnknownMessage = errors.New("no confirmed message with that id")
)

// ChatAPI is the backend surface used by a Conversation. *api.Client
// implements it.
type ChatAPI interface {
	OpenChat(ctx context.Context, message string) (io.ReadCloser, error)
	ChatHistory(ctx context.Context, offset, limit int) (*api.ChatPage, error)
	RateMessage(ctx context.Context, messageID int64, rating int) (*api.Feedback, error)
}

// Guard blocks requests until the session is authenticated.
type Guard interface {
	Require() error
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation drives a Store from the chat endpoints. It is safe for
// concurrent use; stream events are applied in the order they arrive.
type Conversation struct {
	mu    sync.Mutex
	store *Store
	pager *history.Pager[Message]
	// loading is set while a history page is being fetched. The server
	// stores a question before answering it, so a page fetched mid-stream
	// would hold a copy of the question that has no local server id yet.
	loading bool

	api    ChatAPI
	guard  Guard
	host   identity.Host
	logger *slog.Logger
	now    func() time.Time

	onChange       func([]Message)
	onUnauthorized func(error)
	onFinalized    func(user, reply Message)

	// feedback tracks in-flight rating calls.
	feedback sync.WaitGroup
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithGuard sets the authentication guard checked before every request.
func WithGuard(g Guard) Option {
	return func(c *Conversation) { c.guard = g }
}

// WithHost sets the host that receives haptic cues.
func WithHost(h identity.Host) Option {
	return func(c *Conversation) { c.host = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(c *Conversation) {
		if n > 0 {
			c.pager = history.NewPager[Message](n, c.fetchPage)
		}
	}
}

// OnChange registers an observer called with a snapshot after every change.
// It runs on the goroutine that made the change, outside the lock.
func OnChange(fn func([]Message)) Option {
	return func(c *Conversation) { c.onChange = fn }
}

// OnUnauthorized registers the handler for 401 replies.
func OnUnauthorized(fn func(error)) Option {
	return func(c *Conversation) { c.onUnauthorized = fn }
}

// OnFinalized registers a handler for turns that ended with a server id.
func OnFinalized(fn func(user, reply Message)) Option {
	return func(c *Conversation) { c.onFinalized = fn }
}

// New creates a conversation backed by chat.
func New(chat ChatAPI, opts ...Option) *Conversation {
	c := &Conversation{
		store:  NewStore(),
		api:    chat,
		logger: slog.Default(),
		now:    time.Now,
	}
	c.pager = history.NewPager[Message](api.DefaultChatPageSize, c.fetchPage)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "conversation")
	return c
}

// Messages returns a snapshot of the conversation.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// Streaming reports whether a reply is in flight.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.InFlight()
}

// HasOlder reports whether older history remains on the server.
func (c *Conversation) HasOlder() bool {
	return c.pager.HasMore()
}

func (c *Conversation) require() error {
	if c.guard == nil {
		return nil
	}
	return c.guard.Require()
}

func (c *Conversation) haptic(h identity.Haptic) {
	if c.host != nil {
		c.host.Haptic(h)
	}
}

// update applies fn under the lock and notifies the observer.
func (c *Conversation) update(fn func(s *Store) bool) bool {
	c.mu.Lock()
	changed := fn(c.store)
	var snap []Message
	if changed && c.onChange != nil {
		snap = c.store.Snapshot()
	}
	c.mu.Unlock()

	if snap != nil {
		c.onChange(snap)
	}
	return changed
}

func (c *Conversation) unauthorized(err error) {
	if c.onUnauthorized != nil {
		c.onUnauthorized(err)
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit sends text and streams the reply into the conversation. It blocks
// until the exchange reaches a terminal state. Transport failures end the
// exchange with an in-band message and are not returned; only rejected
// submissions return an error. Cancelling ctx aborts the connection.
func (c *Conversation) Submit(ctx context.Context, text string) error {
	if err := c.require(); err != nil {
		return err
	}

	var beginErr error
	c.update(func(s *Store) bool {
		if c.loading {
			beginErr = ErrHistoryLoading
			return false
		}
		beginErr = s.Begin(text, c.now())
		return beginErr == nil
	})
	if beginErr != nil {
		return beginErr
	}
	c.haptic(identity.HapticImpact)

	msgs := c.Messages()
	sent := msgs[len(msgs)-2].Content

	body, err := c.api.OpenChat(ctx, sent)
	if err != nil {
		c.fail(ctx, err)
		c.settle(0)
		return nil
	}
	defer body.Close()

	persisted := 0
	reader := stream.NewReader(body, stream.WithLogger(c.logger))
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.fail(ctx, err)
			break
		}

		switch ev := ev.(type) {
		case stream.Token:
			c.update(func(s *Store) bool { return s.ApplyToken(ev.Content) })
		case stream.Done:
			if c.update(func(s *Store) bool { return s.ApplyDone(ev.MessageID) }) && ev.MessageID > 0 {
				persisted = 2
			}
		case stream.Error:
			c.update(func(s *Store) bool { return s.ApplyError(ev.Content) })
			// The server stores the question before generating.
			persisted = 1
		}
	}

	c.settle(persisted)
	return nil
}

// fail ends the streaming reply with a message describing err.
func (c *Conversation) fail(ctx context.Context, err error) {
	text := TextStreamFailed
	switch {
	case ctx.Err() != nil:
		text = TextInterrupted
	case api.IsUnauthorized(err):
		text = TextSessionExpired
		c.unauthorized(err)
	default:
		var te *api.TransportError
		if errors.As(err, &te) {
			text = te.Message
		}
	}
	c.logger.Warn("chat stream failed", "error", err)

	c.update(func(s *Store) bool {
		if last, ok := s.Last(); ok && last.Streaming && last.Content != "" {
			text = "\n\n" + text
		}
		return s.ApplyError(text)
	})
}

// settle closes the exchange and runs the follow-up hooks. persisted is the
// number of records the server created for this turn.
func (c *Conversation) settle(persisted int) {
	c.update(func(s *Store) bool { return s.Settle(TextNoReply) })

	if persisted > 0 {
		c.pager.Shift(persisted)
	}

	msgs := c.Messages()
	if len(msgs) < 2 {
		return
	}
	user, reply := msgs[len(msgs)-2], msgs[len(msgs)-1]
	if reply.Confirmed() {
		c.haptic(identity.HapticSuccess)
		if c.onFinalized != nil {
			c.onFinalized(user, reply)
		}
		return
	}
	c.haptic(identity.HapticError)
}

// =============================================================================
// RATING
// =============================================================================

// Rate sets the rating on a confirmed reply immediately and persists it in
// the background. A failed persistence is logged and not rolled back.
func (c *Conversation) Rate(ctx context.Context, serverID int64, r Rating) error {
	if err := c.require(); err != nil {
		return err
	}
	if !r.Valid() {
		return ErrInvalidRating
	}

	var found, changed bool
	c.update(func(s *Store) bool {
		found, changed = s.Rate(serverID, r)
		return changed
	})
	if !found {
		return ErrUnknownMessage
	}
	c.haptic(identity.HapticImpact)
	if !changed {
		return nil
	}

	c.feedback.Add(1)
	go func() {
		defer c.feedback.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), api.DefaultTimeout)
		defer cancel()

		if _, err := c.api.RateMessage(pctx, serverID, int(r)); err != nil {
			c.logger.Warn("feedback not saved", "message_id", serverID, "rating", int(r), "error", err)
			if api.IsUnauthorized(err) {
				c.unauthorized(err)
			}
		}
	}()
	return nil
}

// Wait blocks until background feedback calls have finished.
func (c *Conversation) Wait() {
	c.feedback.Wait()
}

// =============================================================================
// HISTORY
// =============================================================================

func (c *Conversation) fetchPage(ctx context.Context, offset, limit int) ([]Message, bool, error) {
	page, err := c.api.ChatHistory(ctx, offset, limit)
	if err != nil {
		return nil, false, err
	}
	msgs := make([]Message, len(page.Messages))
	for i, hm := range page.Messages {
		msgs[i] = FromHistory(hm)
	}
	return msgs, page.HasMore, nil
}

// LoadOlder fetches the next page of history and prepends it. It returns
// the number of messages added; zero once history is exhausted. It fails
// with ErrBusy while a reply is streaming, and with history.ErrFetching
// while another load is running.
func (c *Conversation) LoadOlder(ctx context.Context) (int, error) {
	if err := c.require(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	switch {
	case c.store.InFlight():
		c.mu.Unlock()
		return 0, ErrBusy
	case c.loading:
		c.mu.Unlock()
		return 0, history.ErrFetching
	}
	c.loading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	page, err := c.pager.Next(ctx)
	if errors.Is(err, history.ErrNoMore) {
		return 0, nil
	}
	if err != nil {
		if api.IsUnauthorized(err) {
			c.unauthorized(err)
		}
		return 0, fmt.Errorf("failed to load history: %w", err)
	}

	var added int
	c.update(func(s *Store) bool {
		added = s.Prepend(page)
		return added > 0
	})
	return added, nil
}

// Reset clears the conversation and rewinds history paging. It fails with
// ErrBusy while a reply is streaming and ErrHistoryLoading during a load.
func (c *Conversation) Reset() error {
	err := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.loading {
			return ErrHistoryLoading
		}
		if err := c.store.Reset(); err != nil {
			return err
		}
		c.pager.Reset()
		return nil
	}()
	if err == nil && c.onChange != nil {
		c.onChange(nil)
	}
	return err
}
