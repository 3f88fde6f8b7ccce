package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/lojasmm/psidbot/internal/lookup"
	"github.com/lojasmm/psidbot/internal/store"
)

const (
	OptionPicture = "psid_pic"
	OptionInfo    = "psid_info"
)

const (
	welcomeText = "👋 Welcome to the bot!\n\n" +
		"This bot helps you with:\n" +
		"- Converting PSID to Picture\n" +
		"- Fetching Info using PSID\n\n" +
		"Choose an option below:"
	helpText = "Commands:\n" +
		"/start - show the menu\n" +
		"/cancel - cancel the current operation\n" +
		"/history - your recent lookups\n" +
		"/clear - forget your lookup history\n" +
		"/help - this message"
	picturePrompt      = "📷 Please send me the PSID to get the picture."
	infoPrompt         = "ℹ️ Please send me the PSID to get the info."
	cancelText         = "❌ Operation cancelled."
	idleHint           = "Send /start to choose what to do with a PSID."
	unknownText        = "Unknown command.\nSend /start to see the menu."
	noHistoryText      = "No lookups yet. Send /start to begin."
	historyClearedText = "🧹 Lookup history cleared."
	internalText       = "⚠️ Something went wrong. Please send /start and try again."
)

var menuOptions = []Option{
	{ID: OptionPicture, Title: "PSID to Pic"},
	{ID: OptionInfo, Title: "PSID to Info"},
}

// Target is the endpoint a lookup went to.
type Target string

const (
	TargetPicture Target = "picture"
	TargetInfo    Target = "info"
)

func pictureCaption(psid string) string {
	return fmt.Sprintf("Here is the picture for PSID: %s", psid)
}

func infoText(psid, body string) string {
	return fmt.Sprintf("ℹ️ Info for PSID %s\n\n%s", psid, body)
}

// failureText is the only place that turns a lookup error into user-visible
// text. The raw cause never reaches the user.
func failureText(target Target, psid string, err error) string {
	kind := lookup.KindOf(err)
	switch target {
	case TargetPicture:
		switch kind {
		case lookup.KindNotFound:
			return fmt.Sprintf("❌ No picture found for PSID: %s", psid)
		case lookup.KindFormat:
			return fmt.Sprintf("❌ The image server did not return a picture for PSID: %s", psid)
		default:
			return fmt.Sprintf("⚠️ Could not fetch the picture for PSID: %s. Please try again later.", psid)
		}
	default:
		switch kind {
		case lookup.KindNotFound:
			return fmt.Sprintf("❌ No data found for PSID: %s", psid)
		case lookup.KindFormat:
			return fmt.Sprintf("❌ Received an unexpected response while fetching info for PSID: %s", psid)
		default:
			return fmt.Sprintf("⚠️ Could not fetch info for PSID: %s. Please try again later.", psid)
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(lookup.KindOf(err))
}

func historyText(lookups []store.Lookup, loc *time.Location) string {
	if len(lookups) == 0 {
		return noHistoryText
	}
	var b strings.Builder
	b.WriteString("🕘 Recent lookups:")
	for _, l := range lookups {
		fmt.Fprintf(&b, "\n• %s %s: %s (%s)", l.At.In(loc).Format(lookup.TimeLayout), l.Target, l.PSID, l.Outcome)
	}
	return b.String()
}
