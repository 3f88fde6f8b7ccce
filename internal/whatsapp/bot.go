package whatsapp

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/lojasmm/psidbot/internal/conversation"
	"github.com/lojasmm/psidbot/internal/metrics"
	"github.com/lojasmm/psidbot/internal/session"
)

const (
	frontend       = "whatsapp"
	maxTextLen     = 4096
	maxButtonTitle = 20
)

// Handler turns a chat event into a reply.
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event) conversation.Reply
}

// Sender is the part of *Client the bot needs.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendInteractiveButtons(ctx context.Context, to, body string, buttons []Button) error
	SendImage(ctx context.Context, to, name, contentType string, data []byte, caption string) error
	SendImageLink(ctx context.Context, to, link, caption string) error
}

type Bot struct {
	wa      Sender
	handler Handler
	locks   *session.Manager
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewBot(wa Sender, handler Handler, locks *session.Manager, log *slog.Logger) *Bot {
	if locks == nil {
		locks = session.NewManager()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		wa:      wa,
		handler: handler,
		locks:   locks,
		log:     log.With("frontend", frontend),
	}
}

// Dispatch handles msg in the background so the webhook can answer Meta
// right away. Messages from one sender run in arrival order. It is a
// MessageHandler.
func (b *Bot) Dispatch(ctx context.Context, msg InboundMessage) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	b.locks.Submit(chatKey(msg.From), func() {
		defer b.wg.Done()
		b.HandleMessage(ctx, msg)
	})
}

// Wait blocks until every dispatched message has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleMessage processes one inbound message under the sender's lock.
func (b *Bot) HandleMessage(ctx context.Context, msg InboundMessage) {
	ev := toEvent(msg)

	b.locks.WithLock(ev.Chat, func() {
		metrics.EventsTotal.WithLabelValues(frontend, ev.Kind.String()).Inc()

		reply := b.handler.Handle(ctx, ev)
		if err := b.send(ctx, msg.From, reply); err != nil {
			metrics.SendFailures.WithLabelValues(frontend).Inc()
			b.log.Error("failed to send reply", "chat", ev.Chat, "reply", reply.Kind(), "error", err)
			return
		}
		metrics.MessagesSent.WithLabelValues(frontend, reply.Kind()).Inc()
	})
}

func toEvent(msg InboundMessage) conversation.Event {
	ev := conversation.Event{Chat: chatKey(msg.From)}

	if msg.Kind == InboundButton {
		ev.Kind = conversation.EventSelect
		ev.Option = msg.ButtonID
		return ev
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text[1:], " ")
		ev.Kind = conversation.EventCommand
		ev.Command = strings.ToLower(cmd)
		return ev
	}

	ev.Kind = conversation.EventText
	ev.Text = msg.Text
	return ev
}

func (b *Bot) send(ctx context.Context, to string, reply conversation.Reply) error {
	switch {
	case reply.Photo != nil:
		p := reply.Photo
		if len(p.Data) == 0 {
			return b.wa.SendImageLink(ctx, to, p.URL, p.Caption)
		}
		return b.wa.SendImage(ctx, to, p.Name, p.ContentType, p.Data, p.Caption)
	case len(reply.Options) > 0:
		return b.wa.SendInteractiveButtons(ctx, to, reply.Text, toWAButtons(reply.Options))
	default:
		return b.wa.SendText(ctx, to, truncate(reply.Text, maxTextLen))
	}
}

func chatKey(phone string) string {
	return "wa:" + phone
}

func toWAButtons(options []conversation.Option) []Button {
	wa := make([]Button, len(options))
	for i, o := range options {
		wa[i] = Button{
			Type:  "reply",
			Reply: ButtonReply{ID: o.ID, Title: truncate(o.Title, maxButtonTitle)},
		}
	}
	return wa
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
