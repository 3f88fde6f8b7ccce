package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lojasmm/psidbot/internal/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	method string
	form   map[string]string
}

// fakeAPI is a minimal Bot API server that records every call. The first
// getUpdates call returns updates; later ones return an empty batch.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	updates string
	polls   atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.ParseMultipartForm(1 << 20)
	} else {
		r.ParseForm()
	}
	form := make(map[string]string)
	for k, v := range r.Form {
		form[k] = v[0]
	}
	if r.MultipartForm != nil {
		for k := range r.MultipartForm.File {
			form[k] = "<file>"
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, form: form})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"PSID","username":"psid_bot"}}`)
	case "getUpdates":
		if f.polls.Add(1) == 1 && f.updates != "" {
			io.WriteString(w, f.updates)
			return
		}
		time.Sleep(20 * time.Millisecond)
		io.WriteString(w, `{"ok":true,"result":[]}`)
	case "answerCallbackQuery":
		io.WriteString(w, `{"ok":true,"result":true}`)
	default:
		io.WriteString(w, `{"ok":true,"result":{"message_id":9,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}
}

func (f *fakeAPI) sent() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method != "getMe" && c.method != "getUpdates" {
			out = append(out, c)
		}
	}
	return out
}

type stubHandler struct {
	mu     sync.Mutex
	events []conversation.Event
	reply  conversation.Reply
	// selectDelay slows down button presses so a reordered text event
	// would overtake them.
	selectDelay time.Duration
}

func (s *stubHandler) Handle(_ context.Context, ev conversation.Event) conversation.Reply {
	if ev.Kind == conversation.EventSelect {
		time.Sleep(s.selectDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.reply
}

func (s *stubHandler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestBot(t *testing.T, reply conversation.Reply) (*Bot, *fakeAPI, *stubHandler) {
	t.Helper()
	return newTestBotWithAPI(t, &fakeAPI{}, reply)
}

func newTestBotWithAPI(t *testing.T, api *fakeAPI, reply conversation.Reply) (*Bot, *fakeAPI, *stubHandler) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	h := &stubHandler{reply: reply}
	bot, err := NewBot(Options{
		Token:    "123:abc",
		Endpoint: srv.URL + "/bot%s/%s",
		Timeout:  5 * time.Second,
		Handler:  h,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return bot, api, h
}

func commandUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      text,
	}}
}

func TestNewBot_ChecksToken(t *testing.T) {
	bot, _, _ := newTestBot(t, conversation.Reply{})
	assert.Equal(t, "psid_bot", bot.Username())
}

func TestHandleUpdate_CommandSendsMenu(t *testing.T) {
	bot, api, h := newTestBot(t, conversation.Reply{
		Text:    "Choose an option below:",
		Options: []conversation.Option{{ID: "psid_pic", Title: "PSID to Pic"}, {ID: "psid_info", Title: "PSID to Info"}},
	})

	bot.HandleUpdate(context.Background(), commandUpdate("/start"))

	require.Len(t, h.events, 1)
	assert.Equal(t, conversation.Event{Chat: "tg:42", Kind: conversation.EventCommand, Command: "start"}, h.events[0])

	calls := api.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].method)
	assert.Equal(t, "42", calls[0].form["chat_id"])
	assert.Equal(t, "Choose an option below:", calls[0].form["text"])
	assert.Contains(t, calls[0].form["reply_markup"], `"callback_data":"psid_pic"`)
	assert.Contains(t, calls[0].form["reply_markup"], `"text":"PSID to Info"`)
}

func TestHandleUpdate_CallbackEditsMenu(t *testing.T) {
	bot, api, h := newTestBot(t, conversation.Reply{Text: "📷 Please send me the PSID to get the picture."})

	bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    "psid_pic",
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: 42}},
	}})

	require.Len(t, h.events, 1)
	assert.Equal(t, conversation.EventSelect, h.events[0].Kind)
	assert.Equal(t, "psid_pic", h.events[0].Option)

	calls := api.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, "answerCallbackQuery", calls[0].method)
	assert.Equal(t, "cb-1", calls[0].form["callback_query_id"])
	assert.Equal(t, "editMessageText", calls[1].method)
	assert.Equal(t, "7", calls[1].form["message_id"])
	assert.Equal(t, "📷 Please send me the PSID to get the picture.", calls[1].form["text"])
}

func TestHandleUpdate_PhotoReply(t *testing.T) {
	bot, api, h := newTestBot(t, conversation.Reply{Photo: &conversation.Photo{
		Name:    "Output12345.jpg",
		Data:    []byte{0xff, 0xd8},
		Caption: "Here is the picture for PSID: 12345",
	}})

	bot.HandleUpdate(context.Background(), textUpdate("12345"))

	require.Len(t, h.events, 1)
	assert.Equal(t, conversation.Event{Chat: "tg:42", Kind: conversation.EventText, Text: "12345"}, h.events[0])

	calls := api.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendPhoto", calls[0].method)
	assert.Equal(t, "Here is the picture for PSID: 12345", calls[0].form["caption"])
	assert.Equal(t, "<file>", calls[0].form["photo"])
}

func TestHandleUpdate_IgnoresNonText(t *testing.T) {
	bot, api, h := newTestBot(t, conversation.Reply{Text: "x"})

	bot.HandleUpdate(context.Background(), textUpdate(""))
	bot.HandleUpdate(context.Background(), tgbotapi.Update{})

	assert.Empty(t, h.events)
	assert.Empty(t, api.sent())
}

func TestHandleUpdate_TruncatesLongText(t *testing.T) {
	bot, api, _ := newTestBot(t, conversation.Reply{Text: strings.Repeat("é", 5000)})

	bot.HandleUpdate(context.Background(), textUpdate("1"))

	calls := api.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, maxMessageLen+3, len([]rune(calls[0].form["text"])))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "日本...", truncate("日本語", 2))
}

// updateBatch is one getUpdates response holding, for every chat, a menu
// button press followed by the PSID text.
func updateBatch(chats int) string {
	var b strings.Builder
	b.WriteString(`{"ok":true,"result":[`)
	id := 0
	for c := 1; c <= chats; c++ {
		if c > 1 {
			b.WriteByte(',')
		}
		id++
		fmt.Fprintf(&b, `{"update_id":%d,"callback_query":{"id":"cb-%d","from":{"id":%d,"is_bot":false,"first_name":"u"},`+
			`"chat_instance":"i","data":"psid_pic","message":{"message_id":7,"date":0,"chat":{"id":%d,"type":"private"}}}},`,
			id, c, c, c)
		id++
		fmt.Fprintf(&b, `{"update_id":%d,"message":{"message_id":8,"date":0,"chat":{"id":%d,"type":"private"},"text":"123"}}`, id, c)
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestRun_KeepsUpdateOrderPerChat(t *testing.T) {
	const chats = 100
	bot, _, h := newTestBotWithAPI(t, &fakeAPI{updates: updateBatch(chats)}, conversation.Reply{Text: "ok"})
	h.selectDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool { return h.count() == 2*chats }, 10*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	byChat := make(map[string][]conversation.EventKind)
	for _, ev := range h.events {
		byChat[ev.Chat] = append(byChat[ev.Chat], ev.Kind)
	}
	require.Len(t, byChat, chats)
	for chat, kinds := range byChat {
		assert.Equal(t, []conversation.EventKind{conversation.EventSelect, conversation.EventText}, kinds, chat)
	}
}
