package lookup

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	NotAvailable = "N/A"
	TimeLayout   = "2006-01-02 15:04:05 MST"
)

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldRoles
	fieldTimestamp
)

// field is one row of the default policy: the label shown to the user, the
// record keys tried in order, and how the value is rendered.
type field struct {
	icon  string
	label string
	keys  []string
	kind  fieldKind
}

var infoFields = []field{
	{"👤", "Name", []string{"title", "name"}, fieldText},
	{"🔹", "First Name", []string{"firstName", "first_name", "firstname"}, fieldText},
	{"🔹", "Last Name", []string{"lastName", "last_name", "lastname"}, fieldText},
	{"📧", "Email", []string{"email"}, fieldText},
	{"📱", "Mobile", []string{"mobile", "phone"}, fieldText},
	{"🆔", "UID", []string{"uid", "UID"}, fieldText},
	{"🔑", "Username", []string{"username", "userName"}, fieldText},
	{"🎭", "Roles", []string{"roles"}, fieldRoles},
	{"🕒", "Created", []string{"created"}, fieldTimestamp},
}

// FieldValue is a rendered record field.
type FieldValue struct {
	Label string
	Value string
}

// Formatter renders info records. Location is used for the created
// timestamp; nil means UTC.
type Formatter struct {
	Location *time.Location
}

// Fields applies the default policy to rec. Every field is present in the
// result; missing or empty values become NotAvailable.
func (f Formatter) Fields(rec Record) []FieldValue {
	out := make([]FieldValue, 0, len(infoFields))
	for _, fd := range infoFields {
		raw := lookupKey(rec, fd.keys)

		var v string
		switch fd.kind {
		case fieldRoles:
			v = roles(raw)
		case fieldTimestamp:
			v = f.timestamp(raw)
		default:
			v = text(raw)
		}
		if v == "" {
			v = NotAvailable
		}
		out = append(out, FieldValue{Label: fd.label, Value: v})
	}
	return out
}

// Format renders rec as one "icon Label: value" line per field.
func (f Formatter) Format(rec Record) string {
	var b strings.Builder
	for i, fv := range f.Fields(rec) {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s: %s", infoFields[i].icon, fv.Label, fv.Value)
	}
	return b.String()
}

func (f Formatter) timestamp(raw any) string {
	sec, ok := epochSeconds(raw)
	if !ok || sec == 0 {
		return ""
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(sec, 0).In(loc).Format(TimeLayout)
}

func lookupKey(rec Record, keys []string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func text(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// roles flattens a map (values ordered by key) or a list into "a, b".
func roles(raw any) string {
	var parts []string
	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := text(v[k]); s != "" {
				parts = append(parts, s)
			}
		}
	case []any:
		for _, item := range v {
			if s := text(item); s != "" {
				parts = append(parts, s)
			}
		}
	default:
		return text(raw)
	}
	return strings.Join(parts, ", ")
}

func epochSeconds(raw any) (int64, bool) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
