package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lojasmm/psidbot/internal/lookup"
	"github.com/lojasmm/psidbot/internal/metrics"
	"github.com/lojasmm/psidbot/internal/session"
	"github.com/lojasmm/psidbot/internal/store"
)

const defaultHistoryLimit = 5

type PictureFetcher interface {
	Fetch(ctx context.Context, psid string) (*lookup.Picture, error)
}

type InfoFetcher interface {
	Fetch(ctx context.Context, psid string) (lookup.Record, error)
}

// History records finished lookups. It is optional.
type History interface {
	AppendLookup(chat string, l store.Lookup) error
	RecentLookups(chat string, limit int) ([]store.Lookup, error)
	ClearLookups(chat string) error
}

type Options struct {
	Sessions     session.Store
	Pictures     PictureFetcher
	Info         InfoFetcher
	History      History
	HistoryLimit int
	Location     *time.Location
	Logger       *slog.Logger
}

// Controller drives the menu -> awaiting PSID -> lookup -> idle cycle for
// every chat. Callers must not invoke Handle concurrently for the same chat.
type Controller struct {
	sessions     session.Store
	pictures     PictureFetcher
	info         InfoFetcher
	history      History
	historyLimit int
	formatter    lookup.Formatter
	loc          *time.Location
	log          *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewController(opts Options) *Controller {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		sessions:     opts.Sessions,
		pictures:     opts.Pictures,
		info:         opts.Info,
		history:      opts.History,
		historyLimit: limit,
		formatter:    lookup.Formatter{Location: loc},
		loc:          loc,
		log:          log,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// Handle processes one event and returns the reply to send. Every failure
// is already turned into user-facing text.
func (c *Controller) Handle(ctx context.Context, ev Event) Reply {
	switch ev.Kind {
	case EventCommand:
		return c.handleCommand(ctx, ev)
	case EventSelect:
		return c.handleSelect(ctx, ev)
	default:
		return c.handleText(ctx, ev)
	}
}

func (c *Controller) handleCommand(ctx context.Context, ev Event) Reply {
	c.log.Info("command received", "chat", ev.Chat, "command", ev.Command)

	switch strings.ToLower(ev.Command) {
	case "start", "menu":
		return c.RenderMenu(ctx, ev.Chat)
	case "cancel":
		return c.Cancel(ctx, ev.Chat)
	case "help":
		return Reply{Text: helpText}
	case "history":
		return c.recentLookups(ev.Chat)
	case "clear":
		return c.clearLookups(ev.Chat)
	default:
		return Reply{Text: unknownText}
	}
}

// RenderMenu resets the chat to idle and offers the two lookup options.
func (c *Controller) RenderMenu(ctx context.Context, chat string) Reply {
	c.reset(ctx, chat)
	return Reply{Text: welcomeText, Options: menuOptions}
}

// Cancel resets the chat to idle from any state.
func (c *Controller) Cancel(ctx context.Context, chat string) Reply {
	c.reset(ctx, chat)
	return Reply{Text: cancelText}
}

func (c *Controller) handleSelect(ctx context.Context, ev Event) Reply {
	var (
		state  session.State
		prompt string
	)
	switch ev.Option {
	case OptionPicture:
		state, prompt = session.StateAwaitingPictureID, picturePrompt
	case OptionInfo:
		state, prompt = session.StateAwaitingInfoID, infoPrompt
	default:
		c.log.Warn("unknown menu option", "chat", ev.Chat, "option", ev.Option)
		return c.RenderMenu(ctx, ev.Chat)
	}

	sess := session.Session{
		State:         state,
		CorrelationID: c.newID(),
		StartedAt:     c.now(),
	}
	if err := c.sessions.Set(ctx, ev.Chat, sess); err != nil {
		c.log.Error("failed to store session", "chat", ev.Chat, "error", err)
		return Reply{Text: internalText}
	}

	c.log.Info("option selected",
		"chat", ev.Chat,
		"state", state.String(),
		"correlation_id", sess.CorrelationID)
	return Reply{Text: prompt}
}

func (c *Controller) handleText(ctx context.Context, ev Event) Reply {
	sess, err := c.sessions.Get(ctx, ev.Chat)
	if errors.Is(err, session.ErrNoSession) {
		return Reply{Text: idleHint}
	}
	if err != nil {
		c.log.Error("failed to load session", "chat", ev.Chat, "error", err)
		return Reply{Text: internalText}
	}
	return c.OnIdentifierReceived(ctx, ev.Chat, sess, ev.Text)
}

// OnIdentifierReceived runs the lookup selected for sess and always leaves
// the chat idle, whatever the outcome.
func (c *Controller) OnIdentifierReceived(ctx context.Context, chat string, sess session.Session, text string) Reply {
	defer c.reset(ctx, chat)

	psid := strings.TrimSpace(text)
	log := c.log.With("chat", chat, "correlation_id", sess.CorrelationID, "psid", psid)

	switch sess.State {
	case session.StateAwaitingPictureID:
		return c.fetchPicture(ctx, log, chat, sess, psid)
	case session.StateAwaitingInfoID:
		return c.fetchInfo(ctx, log, chat, sess, psid)
	default:
		return Reply{Text: idleHint}
	}
}

func (c *Controller) fetchPicture(ctx context.Context, log *slog.Logger, chat string, sess session.Session, psid string) Reply {
	start := time.Now()
	pic, err := c.pictures.Fetch(ctx, psid)
	c.observe(TargetPicture, start, err)
	c.record(chat, sess, TargetPicture, psid, err)

	if err != nil {
		log.Warn("picture lookup failed", "kind", lookup.KindOf(err), "timeout", lookup.IsTimeout(err), "error", err)
		return Reply{Text: failureText(TargetPicture, psid, err)}
	}

	log.Info("picture lookup succeeded", "bytes", len(pic.Data), "content_type", pic.ContentType)
	return Reply{Photo: &Photo{
		Name:        pic.Name,
		ContentType: pic.ContentType,
		Data:        pic.Data,
		URL:         pic.URL,
		Caption:     pictureCaption(psid),
	}}
}

func (c *Controller) fetchInfo(ctx context.Context, log *slog.Logger, chat string, sess session.Session, psid string) Reply {
	start := time.Now()
	rec, err := c.info.Fetch(ctx, psid)
	c.observe(TargetInfo, start, err)
	c.record(chat, sess, TargetInfo, psid, err)

	if err != nil {
		log.Warn("info lookup failed", "kind", lookup.KindOf(err), "timeout", lookup.IsTimeout(err), "error", err)
		return Reply{Text: failureText(TargetInfo, psid, err)}
	}

	log.Info("info lookup succeeded", "fields", len(rec))
	return Reply{Text: infoText(psid, c.formatter.Format(rec))}
}

func (c *Controller) recentLookups(chat string) Reply {
	if c.history == nil {
		return Reply{Text: noHistoryText}
	}
	lookups, err := c.history.RecentLookups(chat, c.historyLimit)
	if err != nil {
		c.log.Error("failed to load history", "chat", chat, "error", err)
		return Reply{Text: internalText}
	}
	return Reply{Text: historyText(lookups, c.loc)}
}

func (c *Controller) clearLookups(chat string) Reply {
	if c.history == nil {
		return Reply{Text: historyClearedText}
	}
	if err := c.history.ClearLookups(chat); err != nil {
		c.log.Error("failed to clear history", "chat", chat, "error", err)
		return Reply{Text: internalText}
	}
	return Reply{Text: historyClearedText}
}

// reset returns the chat to idle. It runs even after ctx is canceled so a
// shutdown mid-lookup does not leave the chat awaiting input.
func (c *Controller) reset(ctx context.Context, chat string) {
	if err := c.sessions.Delete(context.WithoutCancel(ctx), chat); err != nil {
		c.log.Error("failed to reset session", "chat", chat, "error", err)
	}
}

func (c *Controller) observe(target Target, start time.Time, err error) {
	metrics.LookupDuration.WithLabelValues(string(target)).Observe(time.Since(start).Seconds())
	metrics.LookupsTotal.WithLabelValues(string(target), outcome(err)).Inc()
}

func (c *Controller) record(chat string, sess session.Session, target Target, psid string, err error) {
	if c.history == nil {
		return
	}
	l := store.Lookup{
		Target:        string(target),
		PSID:          psid,
		Outcome:       outcome(err),
		CorrelationID: sess.CorrelationID,
		At:            c.now(),
	}
	if herr := c.history.AppendLookup(chat, l); herr != nil {
		c.log.Warn("failed to record lookup", "chat", chat, "error", herr)
	}
}
