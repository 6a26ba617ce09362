package notify

import (
	"fmt"
	"strings"
)

// TelegramHTML renders ev in Telegram's HTML subset. Field values are
// escaped so ticket text is never interpreted as markup.
func TelegramHTML(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", escapeHTML(ev.title()))
	for _, f := range ev.fields() {
		value := escapeHTML(f.value)
		if strings.Contains(f.value, "\n") {
			fmt.Fprintf(&b, "\n<b>%s:</b>\n<pre>%s</pre>", f.label, value)
			continue
		}
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", f.label, value)
	}
	return b.String()
}

// SlackMrkdwn renders ev in Slack's mrkdwn format.
func SlackMrkdwn(ev Event) string {
	icon := ":rotating_light:"
	if ev.Kind == KindDigest {
		icon = ":bar_chart:"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", icon, escapeSlack(ev.title()))
	for _, f := range ev.fields() {
		value := escapeSlack(f.value)
		if strings.Contains(f.value, "\n") {
			fmt.Fprintf(&b, "\n*%s:*\n```%s```", f.label, value)
			continue
		}
		fmt.Fprintf(&b, "\n*%s:* %s", f.label, value)
	}
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// escapeSlack escapes the three control characters Slack requires to be
// encoded in message text.
func escapeSlack(s string) string {
	return escapeHTML(s)
}
