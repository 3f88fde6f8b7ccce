package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxPayloadBytes = 1 << 20
)

// InboundKind says whether an inbound message is free text or a button press.
type InboundKind string

const (
	InboundText   InboundKind = "text"
	InboundButton InboundKind = "button"
)

type InboundMessage struct {
	From     string
	ID       string
	Kind     InboundKind
	Text     string
	ButtonID string
}

// MessageHandler is called for each supported inbound message.
type MessageHandler func(ctx context.Context, msg InboundMessage)

type WebhookHandler struct {
	verifyToken string
	appSecret   string
	onMessage   MessageHandler
	log         *slog.Logger
}

// NewWebhookHandler builds the webhook endpoints. When appSecret is set,
// POSTs must carry a valid X-Hub-Signature-256 for their body.
func NewWebhookHandler(verifyToken, appSecret string, onMessage MessageHandler, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		onMessage:   onMessage,
		log:         log,
	}
}

// HandleVerify handles the GET webhook verification from Meta.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/get-started#webhook-verification
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	h.log.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleIncoming processes incoming webhook POST notifications. Meta retries
// anything that is not a 200, so malformed payloads are acknowledged too.
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.log.Warn("failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" && !validSignature(h.appSecret, body, r.Header.Get(signatureHeader)) {
		h.log.Warn("webhook signature mismatch", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("failed to decode webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range inboundMessages(payload) {
		h.onMessage(r.Context(), msg)
	}

	w.WriteHeader(http.StatusOK)
}

// validSignature checks header against "sha256=" + hex(HMAC-SHA256(secret, body)).
// Reference: https://developers.facebook.com/docs/graph-api/webhooks/getting-started#event-notifications
func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func inboundMessages(payload WebhookPayload) []InboundMessage {
	var out []InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				switch msg.Type {
				case "text":
					if msg.Text != nil {
						out = append(out, InboundMessage{From: msg.From, ID: msg.ID, Kind: InboundText, Text: msg.Text.Body})
					}
				case "interactive":
					if msg.Interactive != nil && msg.Interactive.ButtonReply != nil {
						reply := msg.Interactive.ButtonReply
						out = append(out, InboundMessage{
							From:     msg.From,
							ID:       msg.ID,
							Kind:     InboundButton,
							Text:     reply.Title,
							ButtonID: reply.ID,
						})
					}
				}
			}
		}
	}
	return out
}
