package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lojasmm/psidbot/internal/conversation"
	"github.com/lojasmm/psidbot/internal/metrics"
	"github.com/lojasmm/psidbot/internal/session"
)

const (
	frontend       = "telegram"
	maxMessageLen  = 4000
	pollTimeoutSec = 30
)

// Handler turns a chat event into a reply. *conversation.Controller
// satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event) conversation.Reply
}

type Options struct {
	Token    string
	Endpoint string // defaults to tgbotapi.APIEndpoint
	Timeout  time.Duration
	Handler  Handler
	Locks    *session.Manager
	Logger   *slog.Logger
}

type Bot struct {
	api     *tgbotapi.BotAPI
	handler Handler
	locks   *session.Manager
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewBot connects to the Bot API and checks the token with getMe.
func NewBot(opts Options) (*Bot, error) {
	const op = "telegram.NewBot"

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: opts.Timeout}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	locks := opts.Locks
	if locks == nil {
		locks = session.NewManager()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Bot{
		api:     api,
		handler: opts.Handler,
		locks:   locks,
		log:     log.With("frontend", frontend),
	}, nil
}

// Username is the bot account's @name.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run long-polls for updates until ctx is canceled. Updates of one chat are
// handled in the order Telegram delivered them; different chats run in
// parallel. Run waits for queued updates before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("polling for updates", "username", b.Username())

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			ev, _, _, ok := toEvent(update)
			if !ok {
				continue
			}
			b.wg.Add(1)
			b.locks.Submit(ev.Chat, func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			})
		}
	}
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ev, chatID, editID, ok := toEvent(update)
	if !ok {
		return
	}

	b.locks.WithLock(ev.Chat, func() {
		metrics.EventsTotal.WithLabelValues(frontend, ev.Kind.String()).Inc()

		if cq := update.CallbackQuery; cq != nil {
			if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
				b.log.Warn("failed to answer callback", "chat", ev.Chat, "error", err)
			}
		}

		reply := b.handler.Handle(ctx, ev)
		if err := b.send(chatID, editID, reply); err != nil {
			metrics.SendFailures.WithLabelValues(frontend).Inc()
			b.log.Error("failed to send reply", "chat", ev.Chat, "reply", reply.Kind(), "error", err)
			return
		}
		metrics.MessagesSent.WithLabelValues(frontend, reply.Kind()).Inc()
	})
}

// toEvent maps an update to a controller event. editID is the menu message
// a button press came from.
func toEvent(update tgbotapi.Update) (ev conversation.Event, chatID int64, editID int, ok bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil {
			return ev, 0, 0, false
		}
		chatID = cq.Message.Chat.ID
		ev = conversation.Event{Chat: chatKey(chatID), Kind: conversation.EventSelect, Option: cq.Data}
		return ev, chatID, cq.Message.MessageID, true

	case update.Message == nil || update.Message.Chat == nil:
		return ev, 0, 0, false

	case update.Message.IsCommand():
		chatID = update.Message.Chat.ID
		ev = conversation.Event{Chat: chatKey(chatID), Kind: conversation.EventCommand, Command: update.Message.Command()}
		return ev, chatID, 0, true

	case update.Message.Text == "":
		// stickers, photos and other non-text messages
		return ev, 0, 0, false

	default:
		chatID = update.Message.Chat.ID
		ev = conversation.Event{Chat: chatKey(chatID), Kind: conversation.EventText, Text: update.Message.Text}
		return ev, chatID, 0, true
	}
}

func (b *Bot) send(chatID int64, editID int, reply conversation.Reply) error {
	if reply.Photo != nil {
		return b.sendPhoto(chatID, reply.Photo)
	}

	text := truncate(reply.Text, maxMessageLen)

	if editID != 0 {
		var edit tgbotapi.EditMessageTextConfig
		if len(reply.Options) > 0 {
			edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, editID, text, keyboard(reply.Options))
		} else {
			edit = tgbotapi.NewEditMessageText(chatID, editID, text)
		}
		_, err := b.api.Send(edit)
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(reply.Options) > 0 {
		msg.ReplyMarkup = keyboard(reply.Options)
	}
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendPhoto(chatID int64, p *conversation.Photo) error {
	var file tgbotapi.RequestFileData
	if len(p.Data) > 0 {
		file = tgbotapi.FileBytes{Name: p.Name, Bytes: p.Data}
	} else {
		file = tgbotapi.FileURL(p.URL)
	}

	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = p.Caption
	_, err := b.api.Send(photo)
	return err
}

func keyboard(options []conversation.Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, o := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(o.Title, o.ID)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func chatKey(id int64) string {
	return "tg:" + strconv.FormatInt(id, 10)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
