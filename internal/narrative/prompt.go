package narrative

import (
	"fmt"
	"strings"

	"github.com/sells-group/sightings/internal/model"
)

// SystemPrompt frames the model as a maritime analyst.
const SystemPrompt = `You are a maritime domain awareness analyst. You receive a crowdsourced
vessel sighting that has been enriched with a report number, local visibility,
AIS traffic near the sighting and a trust score for the reporting account.

Write a concise narrative of three to five sentences for an operations log:
- state what was reported, where and when;
- relate the sighting to the nearby AIS traffic, noting when a reported vessel
  has no matching AIS track;
- weigh the report by visibility and reporter trust.
Do not invent facts that are not in the input. Plain text only.`

// BuildPrompt renders the structured user context for a report.
func BuildPrompt(r *model.EnrichedReport) string {
	var b strings.Builder

	b.WriteString("Sighting report\n")
	field(&b, "Report number", deref(r.ReportNumber, "unassigned"))
	field(&b, "Reporting account", r.SourceAccountID)
	field(&b, "Timestamp", r.Timestamp)
	field(&b, "Position", fmt.Sprintf("%.5f, %.5f", r.Latitude, r.Longitude))
	if r.Visibility != nil {
		field(&b, "Visibility", fmt.Sprintf("%d m", *r.Visibility))
	}
	if r.TrustScore != nil {
		field(&b, "Reporter trust score", fmt.Sprintf("%.2f", *r.TrustScore))
	}
	field(&b, "Vessel registry", r.VesselRegistry)
	field(&b, "Activity", r.ActivityType)
	field(&b, "Heading", r.VesselHeading)
	field(&b, "Reporter description", r.Description)

	b.WriteString("\nNearby AIS vessels\n")
	if len(r.NearbyVessels) == 0 {
		b.WriteString("- none found\n")
	}
	for _, v := range r.NearbyVessels {
		b.WriteString("- ")
		b.WriteString(vesselLine(v))
		b.WriteByte('\n')
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func vesselLine(v model.Vessel) string {
	name := v.Name
	if name == "" {
		name = "unnamed"
	}
	parts := []string{name, fmt.Sprintf("%.2f km", v.DistanceKm)}
	if v.MMSI != "" {
		parts = append(parts, "MMSI "+v.MMSI)
	}
	if v.IMO != "" {
		parts = append(parts, "IMO "+v.IMO)
	}
	if v.Heading != nil {
		parts = append(parts, fmt.Sprintf("heading %.0f°", *v.Heading))
	}
	if v.Length != nil && v.Width != nil {
		parts = append(parts, fmt.Sprintf("%.0fx%.0f m", *v.Length, *v.Width))
	}
	return strings.Join(parts, ", ")
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
