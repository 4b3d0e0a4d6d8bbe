package sched

import (
	"fmt"
	"strings"
	"time"

	"fxcalbot/internal/calendar"
	"fxcalbot/internal/storage"
)

// Renderer turns events into outgoing message texts. Digest may return
// several texts when the day's events exceed one message.
type Renderer interface {
	Alert(sub storage.Subscription, ev calendar.Event, lead time.Duration) string
	Digest(sub storage.Subscription, date time.Time, events []calendar.Event) []string
}

// htmlRenderer is the default Telegram HTML presentation.
type htmlRenderer struct {
	loc *time.Location
}

func NewHTMLRenderer(loc *time.Location) Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return htmlRenderer{loc: loc}
}

func impactMark(i calendar.Impact) string {
	switch i {
	case calendar.ImpactHigh:
		return "\U0001F534" // red circle
	case calendar.ImpactMedium:
		return "\U0001F7E0" // orange circle
	case calendar.ImpactLow:
		return "\U0001F7E1" // yellow circle
	default:
		return "⚪" // white circle
	}
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func (r htmlRenderer) eventLine(ev calendar.Event) string {
	var b strings.Builder
	b.WriteString(impactMark(ev.Impact))
	b.WriteString(" <b>")
	b.WriteString(ev.At.In(r.loc).Format("15:04"))
	b.WriteString("</b> ")
	if ev.Currency != "" {
		b.WriteString(ev.Currency)
		b.WriteString(" ")
	}
	b.WriteString(escapeHTML(ev.Title))
	if ev.Forecast != "" || ev.Previous != "" {
		b.WriteString(" (")
		if ev.Forecast != "" {
			b.WriteString("f: ")
			b.WriteString(escapeHTML(ev.Forecast))
		}
		if ev.Previous != "" {
			if ev.Forecast != "" {
				b.WriteString(", ")
			}
			b.WriteString("p: ")
			b.WriteString(escapeHTML(ev.Previous))
		}
		b.WriteString(")")
	}
	return b.String()
}

func (r htmlRenderer) Alert(_ storage.Subscription, ev calendar.Event, lead time.Duration) string {
	mins := int(lead.Round(time.Minute) / time.Minute)
	return fmt.Sprintf("⏰ <b>In %d min</b>\n%s", mins, r.eventLine(ev))
}

func (r htmlRenderer) Digest(_ storage.Subscription, date time.Time, events []calendar.Event) []string {
	header := fmt.Sprintf("\U0001F4C5 <b>Economic calendar, %s</b>", date.In(r.loc).Format("Mon 02 Jan"))
	if len(events) == 0 {
		return []string{header + "\nNo events scheduled."}
	}

	var texts []string
	for start := 0; start < len(events); start += digestBatchSize {
		end := start + digestBatchSize
		if end > len(events) {
			end = len(events)
		}
		lines := make([]string, 0, 1+end-start)
		if start == 0 {
			lines = append(lines, header)
		}
		for _, ev := range events[start:end] {
			lines = append(lines, r.eventLine(ev))
		}
		texts = append(texts, strings.Join(lines, "\n"))
	}
	return texts
}
