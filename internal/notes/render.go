// Package notes renders the human-readable CRM activity bodies for calls
// and messages. Everything here is pure: same inputs, same strings.
package notes

import (
	"fmt"
	"strings"
)

// CallTitle is the activity title for both the initial log and the later
// enrichment. Enrichment must never retitle the activity, so there is
// exactly one title form: a single "Call" prefix plus the external number.
func CallTitle(externalNumber string) string {
	return "Call " + externalNumber
}

func MessageTitle(externalNumber string) string {
	return "Message " + externalNumber
}

// StatusInput carries everything the status line depends on.
// Answered must come from the answered timestamp, never from Status alone.
type StatusInput struct {
	Answered    bool
	AnsweredBy  string // display name of the user who answered, if known
	ForwardType string // "user" | "menu" | ""
	ForwardedTo string // display name for user forwards, if known
	Status      string // raw status, fallback only
}

// missedStatuses are the statuses that, without an answered timestamp,
// classify the call as missed rather than falling through to the raw form.
var missedStatuses = map[string]struct{}{
	"completed": {},
	"no-answer": {},
	"missed":    {},
}

// StatusLine renders the call status header.
func StatusLine(in StatusInput) string {
	switch {
	case in.Answered && in.AnsweredBy != "":
		return "Answered by " + in.AnsweredBy
	case in.Answered:
		return "Answered"
	case in.ForwardType == "user" && in.ForwardedTo != "":
		return "Forwarded to " + in.ForwardedTo
	case in.ForwardType == "user":
		return "Forwarded"
	case in.ForwardType == "menu":
		return "Forwarded by phone menu"
	default:
		if _, ok := missedStatuses[in.Status]; ok {
			return "Missed call"
		}
		return "Status: " + in.Status
	}
}

// FormatDuration renders seconds as M:SS (11 -> "0:11", 75 -> "1:15").
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// DurationLine renders the duration/recording line, or "" when the call
// had no duration. A zero-duration call gets no recording line either.
func DurationLine(durationSeconds int, recordingURL string) string {
	if durationSeconds <= 0 {
		return ""
	}
	line := "Duration: " + FormatDuration(durationSeconds)
	if recordingURL != "" {
		line += " · Recording: " + recordingURL
	}
	return line
}

// VoicemailLine renders the voicemail line. When the URL is absent only
// the link is omitted, never the whole line: the operator still needs to
// know a voicemail exists.
func VoicemailLine(durationSeconds int, url string) string {
	line := "Voicemail (" + FormatDuration(durationSeconds) + ")"
	if url != "" {
		line += ": " + url
	}
	return line
}

// RenderCallBody joins the non-empty header lines of a phase-1 call note.
func RenderCallBody(lines ...string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Job is one structured AI job result rendered into an enriched note.
type Job struct {
	Icon   string
	Name   string
	Fields []JobField
}

type JobField struct {
	Key   string
	Value string
}

// RenderEnrichedBody builds the phase-2 note body: the re-derived phase-1
// header followed by summary bullets, next-step bullets, and job sections.
// A section with no content is omitted entirely; an empty header over an
// empty list must never appear.
func RenderEnrichedBody(header string, summary, nextSteps []string, jobs []Job) string {
	var b strings.Builder
	b.WriteString(header)

	if len(summary) > 0 {
		b.WriteString("\n\nSummary:")
		for _, s := range summary {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	if len(nextSteps) > 0 {
		b.WriteString("\n\nNext Steps:")
		for _, s := range nextSteps {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	for _, j := range jobs {
		if j.Name == "" {
			continue
		}
		b.WriteString("\n\n")
		if j.Icon != "" {
			b.WriteString(j.Icon)
			b.WriteString(" ")
		}
		b.WriteString(j.Name)
		for _, f := range j.Fields {
			b.WriteString("\n")
			b.WriteString(f.Key)
			b.WriteString(": ")
			b.WriteString(f.Value)
		}
	}
	return b.String()
}

// RenderMessageBody renders a logged text message.
func RenderMessageBody(direction, counterpart, text string) string {
	var head string
	if direction == "outgoing" {
		head = "Message to " + counterpart
	} else {
		head = "Message from " + counterpart
	}
	if text == "" {
		return head
	}
	return head + "\n" + text
}
