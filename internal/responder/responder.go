// Package responder renders an outcome as user-facing text. Templates are
// deterministic; nothing here consults a language model, so a reply always
// exists even when the classifier is down.
package responder

import (
	"fmt"
	"strings"

	"github.com/sekretaria/agenda/internal/model"
)

// Render produces the message for one outcome in the user's timezone.
func Render(out model.Outcome) string {
	switch out.Kind {
	case model.OutcomeResult:
		var b strings.Builder
		if out.Detail != "" {
			b.WriteString(out.Detail)
		}
		if len(out.Events) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(renderEvents(out.Events))
		}
		if b.Len() == 0 {
			b.WriteString("Done.")
		}
		return b.String()

	case model.OutcomePendingConfirmation:
		msg := out.Detail
		if msg == "" {
			msg = "This change needs your confirmation."
		}
		return msg + "\nReply \"sí\" to confirm or anything else to cancel."

	case model.OutcomeNeedsClarification:
		switch out.MissingField {
		case model.AmbiguityDate:
			return "Which date do you mean?"
		case model.AmbiguityTime:
			return "What time should that be?"
		case model.AmbiguityTimeZone:
			return "Which timezone are you in?"
		case model.AmbiguityTarget:
			return "Which appointment are you referring to?"
		default:
			if out.Detail != "" {
				return out.Detail
			}
			return "I need a bit more detail to do that."
		}

	case model.OutcomeRejected:
		if out.Detail != "" {
			return out.Detail
		}
		return "I can't do that right now."

	case model.OutcomeOutOfDomain:
		return "I only handle calendar appointments. Try asking me to schedule, move, or cancel one."
	}
	return out.Detail
}

func renderEvents(events []model.CalendarEvent) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		title := ev.Title
		if title == "" {
			title = "(untitled)"
		}
		line := fmt.Sprintf("• %s  %s – %s",
			title,
			ev.Start.Format("Mon 02 Jan 15:04"),
			ev.End.Format("15:04"))
		if ev.Location != "" {
			line += "  @ " + ev.Location
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
