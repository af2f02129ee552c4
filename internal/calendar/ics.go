package calendar

import (
	"fmt"
	"strings"
	"time"

	"grievance/api/internal/store"
)

const icsStamp = "20060102T150405Z"

// ICS renders a single-VEVENT iCalendar document for an approved event. The
// output depends only on the event, so rewriting it is idempotent.
func ICS(event store.Event) []byte {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(fold(s))
		b.WriteString("\r\n")
	}

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:-//grievance//calendar sync//EN")
	line("CALSCALE:GREGORIAN")
	line("BEGIN:VEVENT")
	line("UID:" + event.ID + "@grievance")
	line("DTSTAMP:" + event.UpdatedAt.UTC().Format(icsStamp))
	line("DTSTART:" + event.StartsAt.UTC().Format(icsStamp))
	line("DTEND:" + event.EndsAt.UTC().Format(icsStamp))
	line("SUMMARY:" + escape(event.Title))
	if event.Location != "" {
		line("LOCATION:" + escape(event.Location))
	}
	line("CATEGORIES:" + escape(event.EventType))
	line("STATUS:CONFIRMED")
	line("END:VEVENT")
	line("END:VCALENDAR")
	return []byte(b.String())
}

var textEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

func escape(s string) string {
	return textEscaper.Replace(s)
}

// fold splits content lines longer than 75 octets.
func fold(s string) string {
	const limit = 75
	if len(s) <= limit {
		return s
	}
	var b strings.Builder
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8Start(s[cut]) {
			cut--
		}
		fmt.Fprintf(&b, "%s\r\n ", s[:cut])
		s = s[cut:]
	}
	b.WriteString(s)
	return b.String()
}

func utf8Start(c byte) bool {
	return c&0xC0 != 0x80
}

func objectKey(event store.Event) string {
	return fmt.Sprintf("%s/events/%s.ics", event.PoliticianID, event.ID)
}

func stamp(t time.Time) string {
	return t.UTC().Format(icsStamp)
}
