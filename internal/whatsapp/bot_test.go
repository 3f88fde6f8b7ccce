package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lojasmm/psidbot/internal/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	kind    string
	to      string
	body    string
	buttons []Button
	name    string
	data    []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) record(m sentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func (f *fakeSender) SendText(_ context.Context, to, body string) error {
	return f.record(sentMessage{kind: "text", to: to, body: body})
}

func (f *fakeSender) SendInteractiveButtons(_ context.Context, to, body string, buttons []Button) error {
	return f.record(sentMessage{kind: "buttons", to: to, body: body, buttons: buttons})
}

func (f *fakeSender) SendImage(_ context.Context, to, name, _ string, data []byte, caption string) error {
	return f.record(sentMessage{kind: "image", to: to, body: caption, name: name, data: data})
}

func (f *fakeSender) SendImageLink(_ context.Context, to, link, caption string) error {
	return f.record(sentMessage{kind: "link", to: to, body: caption, name: link})
}

type stubHandler struct {
	mu          sync.Mutex
	events      []conversation.Event
	reply       conversation.Reply
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

func TestToEvent(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want conversation.Event
	}{
		{
			"command",
			InboundMessage{From: "55", Kind: InboundText, Text: " /Start now"},
			conversation.Event{Chat: "wa:55", Kind: conversation.EventCommand, Command: "start"},
		},
		{
			"button",
			InboundMessage{From: "55", Kind: InboundButton, Text: "PSID to Pic", ButtonID: "psid_pic"},
			conversation.Event{Chat: "wa:55", Kind: conversation.EventSelect, Option: "psid_pic"},
		},
		{
			"text",
			InboundMessage{From: "55", Kind: InboundText, Text: "12345"},
			conversation.Event{Chat: "wa:55", Kind: conversation.EventText, Text: "12345"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toEvent(tt.msg))
		})
	}
}

func TestBot_SendsMenuAsButtons(t *testing.T) {
	wa := &fakeSender{}
	h := &stubHandler{reply: conversation.Reply{
		Text:    "Choose an option below:",
		Options: []conversation.Option{{ID: "psid_pic", Title: "PSID to Pic"}, {ID: "psid_info", Title: "PSID to Info"}},
	}}
	bot := NewBot(wa, h, nil, discardLogger())

	bot.HandleMessage(context.Background(), InboundMessage{From: "55", Kind: InboundText, Text: "/start"})

	require.Len(t, wa.sent, 1)
	assert.Equal(t, "buttons", wa.sent[0].kind)
	assert.Equal(t, "55", wa.sent[0].to)
	assert.Equal(t, []Button{
		{Type: "reply", Reply: ButtonReply{ID: "psid_pic", Title: "PSID to Pic"}},
		{Type: "reply", Reply: ButtonReply{ID: "psid_info", Title: "PSID to Info"}},
	}, wa.sent[0].buttons)
}

func TestBot_SendsPhoto(t *testing.T) {
	wa := &fakeSender{}
	h := &stubHandler{reply: conversation.Reply{Photo: &conversation.Photo{
		Name:        "Output1.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpg"),
		Caption:     "Here is the picture for PSID: 1",
	}}}
	bot := NewBot(wa, h, nil, discardLogger())

	bot.Dispatch(context.Background(), InboundMessage{From: "55", Kind: InboundText, Text: "1"})
	bot.Wait()

	require.Len(t, wa.sent, 1)
	assert.Equal(t, "image", wa.sent[0].kind)
	assert.Equal(t, "Output1.jpg", wa.sent[0].name)
	assert.Equal(t, "Here is the picture for PSID: 1", wa.sent[0].body)
}

func TestBot_DispatchSurvivesCanceledRequest(t *testing.T) {
	wa := &fakeSender{}
	h := &stubHandler{reply: conversation.Reply{Text: "ok"}}
	bot := NewBot(wa, h, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	bot.Dispatch(ctx, InboundMessage{From: "55", Kind: InboundText, Text: "hi"})
	cancel()
	bot.Wait()

	require.Len(t, h.events, 1)
	require.Len(t, wa.sent, 1)
}

func TestBot_SendFailureIsLogged(t *testing.T) {
	wa := &fakeSender{err: errors.New("whatsapp API status 500")}
	h := &stubHandler{reply: conversation.Reply{Text: "ok"}}
	bot := NewBot(wa, h, nil, discardLogger())

	assert.NotPanics(t, func() {
		bot.HandleMessage(context.Background(), InboundMessage{From: "55", Kind: InboundText, Text: "hi"})
	})
	assert.Len(t, wa.sent, 1)
}

func TestTruncateButtonTitle(t *testing.T) {
	assert.Equal(t, "abcdefghijklmnopqrst", truncate("abcdefghijklmnopqrstuvwxyz", maxButtonTitle))
}

func TestBot_DispatchKeepsOrderPerSender(t *testing.T) {
	wa := &fakeSender{}
	h := &stubHandler{reply: conversation.Reply{Text: "ok"}, selectDelay: time.Millisecond}
	bot := NewBot(wa, h, nil, discardLogger())

	const senders = 200
	ctx := context.Background()
	for i := 0; i < senders; i++ {
		from := fmt.Sprintf("55%04d", i)
		bot.Dispatch(ctx, InboundMessage{From: from, Kind: InboundButton, ButtonID: "psid_pic"})
		bot.Dispatch(ctx, InboundMessage{From: from, Kind: InboundText, Text: "123"})
	}
	bot.Wait()

	byChat := make(map[string][]conversation.EventKind)
	for _, ev := range h.events {
		byChat[ev.Chat] = append(byChat[ev.Chat], ev.Kind)
	}
	require.Len(t, byChat, senders)
	for chat, kinds := range byChat {
		assert.Equal(t, []conversation.EventKind{conversation.EventSelect, conversation.EventText}, kinds, chat)
	}
}
