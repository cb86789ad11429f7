// Package model defines the domain types shared by the store, the engine and
// the report.
package model

import "time"

// Unknown is the attribute value given to units discovered in an export but
// absent from the catalog.
const Unknown = "Unknown"

// Unit is a generation unit (one column of the canonical series).
type Unit struct {
	ID               int64      `json:"id,omitempty"`
	Name             string     `json:"name" yaml:"name"`
	Location         string     `json:"location" yaml:"location"`
	ProductionType   string     `json:"production_type" yaml:"production_type"`
	InstallationDate *time.Time `json:"installation_date,omitempty" yaml:"-"`
	NominalMW        float64    `json:"nominal_mw" yaml:"nominal_mw"`
	Characteristics  string     `json:"characteristics,omitempty" yaml:"characteristics"`
}

// NewUnknownUnit returns a unit carrying only its name.
func NewUnknownUnit(name string) Unit {
	return Unit{
		Name:            name,
		Location:        Unknown,
		ProductionType:  Unknown,
		Characteristics: Unknown,
	}
}

// AgeYears returns the age of the unit at now, or false when the installation
// date is unknown.
func (u Unit) AgeYears(now time.Time) (float64, bool) {
	if u.InstallationDate == nil || u.InstallationDate.After(now) {
		return 0, false
	}
	return now.Sub(*u.InstallationDate).Hours() / (24 * 365.25), true
}

// UnitStatus is the per-unit view used by the fleet report.
type UnitStatus struct {
	Unit Unit `json:"unit"`

	// LatestAt is the unit's most recent reading, nil when it has none.
	LatestAt    *time.Time `json:"latest_at,omitempty"`
	LatestValue float64    `json:"latest_value"`

	// LastAboveAt is the most recent reading at or above the low-output
	// threshold, nil when the unit never reached it.
	LastAboveAt *time.Time `json:"last_above_at,omitempty"`
}
