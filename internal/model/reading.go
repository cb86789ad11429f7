package model

import "time"

// Reading is one value of one unit at one instant.
type Reading struct {
	Unit      string    `json:"unit"`
	UnitID    int64     `json:"unit_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// LoadResult summarizes a load into the store.
type LoadResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	// Empty counts absent cells that were not submitted.
	Empty int `json:"empty"`
	// Units counts distinct units touched by the load.
	Units int `json:"units"`
}

// Add accumulates o into r.
func (r *LoadResult) Add(o *LoadResult) {
	if o == nil {
		return
	}
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Empty += o.Empty
	r.Units += o.Units
}
