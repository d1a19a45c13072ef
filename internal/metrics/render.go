// Package metrics renders enriched reports into Prometheus text exposition
// snapshots and accumulates them for scraping.
package metrics

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/sightings/internal/model"
)

// DefaultNarrativeLabelMax bounds the narrative label when no limit is set
// explicitly through configuration.
const DefaultNarrativeLabelMax = 256

// Header precedes the snapshots in every exposition.
const Header = `# HELP ship_latitude Reported latitude of a sighting
# TYPE ship_latitude gauge
# HELP ship_longitude Reported longitude of a sighting
# TYPE ship_longitude gauge
# HELP ship_info Sighting received, enrichment not yet final
# TYPE ship_info counter
# HELP ship_trust_score Trust score for ships
# TYPE ship_trust_score gauge
# HELP ship_report_number_total Total number of ships with report numbers
# TYPE ship_report_number_total counter
# HELP ship_narrative_length Length in characters of the generated narrative
# TYPE ship_narrative_length gauge
# HELP ship_narrative_info Generated narrative for an enriched sighting
# TYPE ship_narrative_info gauge
`

// RenderOptions tunes snapshot rendering.
type RenderOptions struct {
	// NarrativeLabelMax truncates the narrative label to this many runes.
	// Zero disables truncation.
	NarrativeLabelMax int
}

type label struct {
	name, value string
}

// Render returns the exposition lines for one snapshot of report taken at
// the given time. Lines are joined by newlines without a trailing newline.
func Render(report *model.EnrichedReport, at time.Time, opts RenderOptions) string {
	stage := string(report.Stage())
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	lat := formatFloat(report.Latitude)
	lon := formatFloat(report.Longitude)

	var b strings.Builder
	identity := []label{{"source_account_id", report.SourceAccountID}, {"stage", stage}}
	writeSample(&b, "ship_latitude", identity, lat, ts)
	writeSample(&b, "ship_longitude", identity, lon, ts)

	located := []label{
		{"source_account_id", report.SourceAccountID},
		{"latitude", lat},
		{"longitude", lon},
	}

	if !report.IsFinal() {
		writeSample(&b, "ship_info", append(located, label{"stage", stage}), "1", ts)
		return strings.TrimSuffix(b.String(), "\n")
	}

	enriched := append(located,
		label{"report_number", *report.ReportNumber},
		label{"stage", stage},
		label{"enriched", "true"},
	)
	writeSample(&b, "ship_trust_score", enriched, formatFloat(*report.TrustScore), ts)
	writeSample(&b, "ship_report_number_total", enriched, "1", ts)

	if report.EnrichedDescription != nil {
		text := *report.EnrichedDescription
		writeSample(&b, "ship_narrative_length", enriched, strconv.Itoa(utf8.RuneCountInString(text)), ts)
		narrated := append(enriched[:len(enriched):len(enriched)], label{"narrative", truncate(text, opts.NarrativeLabelMax)})
		writeSample(&b, "ship_narrative_info", narrated, "1", ts)
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func writeSample(b *strings.Builder, name string, labels []label, value, ts string) {
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.name)
		b.WriteString(`="`)
		b.WriteString(escapeLabel(l.value))
		b.WriteByte('"')
	}
	b.WriteString("} ")
	b.WriteString(value)
	b.WriteByte(' ')
	b.WriteString(ts)
	b.WriteByte('\n')
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
