package model

import (
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// Stage labels a metrics snapshot by how far enrichment got.
type Stage string

const (
	StageInitial Stage = "initial"
	StageFinal   Stage = "final"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RawReport is a crowdsourced sighting as submitted. It is never mutated
// after creation.
type RawReport struct {
	SourceAccountID string  `json:"source_account_id" yaml:"source_account_id" validate:"required"`
	Timestamp       string  `json:"timestamp" yaml:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Latitude        float64 `json:"latitude" yaml:"latitude" validate:"min=-90,max=90"`
	Longitude       float64 `json:"longitude" yaml:"longitude" validate:"min=-180,max=180"`
	PictureURL      string  `json:"picture_url" yaml:"picture_url" validate:"required,url|datauri"`
	VesselRegistry  string  `json:"vessel_registry,omitempty" yaml:"vessel_registry,omitempty"`
	Description     string  `json:"description,omitempty" yaml:"description,omitempty"`
	ActivityType    string  `json:"activity_type,omitempty" yaml:"activity_type,omitempty"`
	VesselHeading   string  `json:"vessel_heading,omitempty" yaml:"vessel_heading,omitempty"`
}

// Validate checks field presence and coordinate ranges.
func (r RawReport) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrap(err, "model: invalid report")
	}
	return nil
}

// RequestMetadata describes the HTTP request a report arrived on.
type RequestMetadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	LoggedIn  bool   `json:"logged_in"`
}

// Vessel is a ship observed near the sighting by the proximity source.
type Vessel struct {
	Name       string   `json:"name"`
	MMSI       string   `json:"mmsi,omitempty"`
	IMO        string   `json:"imo,omitempty"`
	DistanceKm float64  `json:"distance_km"`
	Heading    *float64 `json:"heading,omitempty"`
	Length     *float64 `json:"length,omitempty"`
	Width      *float64 `json:"width,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// EnrichedReport is a RawReport plus the fields the pipeline fills in, in
// this order: report number, visibility, nearby vessels, trust score,
// narrative. A nil field has not been produced yet. NearbyVessels is nil
// until the proximity step runs and empty when nothing was found.
type EnrichedReport struct {
	RawReport

	ReportNumber        *string  `json:"report_number,omitempty"`
	Visibility          *int     `json:"visibility,omitempty"`
	NearbyVessels       []Vessel `json:"nearby_vessels"`
	TrustScore          *float64 `json:"trust_score,omitempty"`
	EnrichedDescription *string  `json:"enriched_description,omitempty"`
}

// NewEnrichedReport starts an enrichment from a raw report.
func NewEnrichedReport(raw RawReport) *EnrichedReport {
	return &EnrichedReport{RawReport: raw}
}

// IsFinal reports whether both the report number and trust score are known.
func (r *EnrichedReport) IsFinal() bool {
	return r.ReportNumber != nil && r.TrustScore != nil
}

// Stage returns the metrics stage label for the report.
func (r *EnrichedReport) Stage() Stage {
	if r.IsFinal() {
		return StageFinal
	}
	return StageInitial
}

// fieldNames lists enrichment fields in production order.
var fieldNames = [...]string{"report_number", "visibility", "nearby_vessels", "trust_score", "enriched_description"}

func (r *EnrichedReport) fieldsSet() [len(fieldNames)]bool {
	return [len(fieldNames)]bool{
		r.ReportNumber != nil,
		r.Visibility != nil,
		r.NearbyVessels != nil,
		r.TrustScore != nil,
		r.EnrichedDescription != nil,
	}
}

// Progress returns how many enrichment fields, counted from the first, are
// populated without a gap.
func (r *EnrichedReport) Progress() int {
	n := 0
	for _, set := range r.fieldsSet() {
		if !set {
			break
		}
		n++
	}
	return n
}

// CheckOrder returns an error when a later field is populated while an
// earlier one is still missing.
func (r *EnrichedReport) CheckOrder() error {
	set := r.fieldsSet()
	gap := -1
	for i, ok := range set {
		if !ok && gap < 0 {
			gap = i
			continue
		}
		if ok && gap >= 0 {
			return eris.Errorf("model: %s is set but %s is missing", fieldNames[i], fieldNames[gap])
		}
	}
	return nil
}
