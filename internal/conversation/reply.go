package conversation

// EventKind says what a chat event carries.
type EventKind int

const (
	EventCommand EventKind = iota // "/start", "/cancel", ...
	EventSelect                   // a menu option was chosen
	EventText                     // free text, i.e. a PSID
)

// Event is one inbound chat event, already translated by a frontend.
type Event struct {
	Chat    string // frontend-qualified chat key, e.g. "tg:123"
	Kind    EventKind
	Command string // without the leading slash
	Option  string // menu option ID for EventSelect
	Text    string
}

// Reply is what the controller wants sent back. Frontends render Options as
// buttons and Photo as an image upload with Photo.Caption.
type Reply struct {
	Text    string
	Options []Option
	Photo   *Photo
}

type Option struct {
	ID    string // callback payload
	Title string // max 20 chars (WhatsApp limit)
}

type Photo struct {
	Name        string
	ContentType string
	Data        []byte
	URL         string // source URL, used when Data is empty
	Caption     string
}

// Kind names the reply shape for metrics.
func (r Reply) Kind() string {
	switch {
	case r.Photo != nil:
		return "photo"
	case len(r.Options) > 0:
		return "menu"
	default:
		return "text"
	}
}

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventSelect:
		return "select"
	default:
		return "text"
	}
}
