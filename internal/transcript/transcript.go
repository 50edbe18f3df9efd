// Package transcript renders a structured chat document as a linear,
// human-readable text transcript. The output format matches the transcripts
// the remote system itself bundles, so stored and rendered views agree.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/evotalks/backup-agent/internal/chat"
)

// Formatter converts chat exports to text. Now is only consulted as a
// fallback when a message carries no timestamp of its own; with a fixed Now
// the output is fully deterministic.
type Formatter struct {
	Now func() time.Time
}

// New returns a Formatter using the wall clock for missing timestamps.
func New() *Formatter {
	return &Formatter{Now: time.Now}
}

// Format renders the export as one line per message, preceded by a two-line
// client header. Inbound messages are marked ">", outbound "<"; system
// messages carry no directional marker. A message with a file attachment
// renders its attachment name instead of the text body.
func (f *Formatter) Format(export chat.Export) string {
	if export.Chat == nil {
		return ""
	}
	c := export.Chat

	var b strings.Builder

	exportedAt := ""
	if c.Metadata != nil {
		exportedAt = c.Metadata.ExportedAt
	}
	if exportedAt == "" {
		exportedAt = f.now().Format(time.RFC3339)
	}

	name := c.ClientName
	if name == "" {
		name = "Desconhecido"
	}
	number := c.ClientNumber
	if number == "" {
		number = "N/A"
	}

	fmt.Fprintf(&b, "[%s][LI][Cliente: %s | Número: %s]\n", exportedAt, name, number)
	fmt.Fprintf(&b, "[%s][LI][Chat iniciado em %s]\n\n", c.BeginTime, localDate(c.BeginTime))

	lines := make([]string, 0, len(c.Messages))
	for _, msg := range c.Messages {
		lines = append(lines, f.formatMessage(msg))
	}
	b.WriteString(strings.Join(lines, "\n"))

	return b.String()
}

func (f *Formatter) formatMessage(msg chat.Message) string {
	ts := msg.Timestamp
	if ts == "" {
		ts = f.now().Format(time.RFC3339)
	}

	body := msg.Text
	if msg.File != nil && msg.File.FileName != "" {
		body = "Envio do arquivo " + msg.File.FileName
	}

	switch msg.Direction {
	case chat.DirectionIn:
		return fmt.Sprintf("[%s][LI][>][Cliente] - %s", ts, body)
	case chat.DirectionSystem:
		return fmt.Sprintf("[%s][LI][Sistema] - %s", ts, body)
	default:
		return fmt.Sprintf("[%s][LI][<][Agente] - %s", ts, body)
	}
}

func (f *Formatter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// localDate renders an RFC 3339 timestamp as a dd/mm/yyyy date. Unparseable
// input is passed through untouched rather than replaced by the clock.
func localDate(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Format("02/01/2006")
}
