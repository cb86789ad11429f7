// Package catalog loads the unit attribute catalog from YAML.
package catalog

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/gensync/internal/model"
	"github.com/sells-group/gensync/internal/reconcile"
)

const dateLayout = "2006-01-02"

// Entry is one unit in the catalog file.
type Entry struct {
	Name             string  `yaml:"name"`
	Location         string  `yaml:"location"`
	ProductionType   string  `yaml:"production_type"`
	InstallationDate string  `yaml:"installation_date"`
	NominalMW        float64 `yaml:"nominal_mw"`
	Characteristics  string  `yaml:"characteristics"`
}

// File is the top-level catalog document.
type File struct {
	Units []Entry `yaml:"units"`
}

// Load reads the catalog at path and returns its units in file order.
func Load(path string) ([]model.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a catalog document. Missing text attributes default to
// model.Unknown; names must be unique and non-empty.
func Parse(data []byte) ([]model.Unit, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	units := make([]model.Unit, 0, len(f.Units))
	seen := make(map[string]bool, len(f.Units))
	for i, e := range f.Units {
		u, err := e.unit()
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: entry %d", i)
		}
		if seen[u.Name] {
			return nil, eris.Errorf("catalog: duplicate unit %q", u.Name)
		}
		seen[u.Name] = true
		units = append(units, u)
	}
	return units, nil
}

func (e Entry) unit() (model.Unit, error) {
	name := reconcile.NormalizeHeader(e.Name)
	if name == "" {
		return model.Unit{}, eris.New("missing name")
	}
	if e.NominalMW < 0 {
		return model.Unit{}, eris.Errorf("unit %q: negative nominal_mw", name)
	}

	u := model.NewUnknownUnit(name)
	u.NominalMW = e.NominalMW
	if v := strings.TrimSpace(e.Location); v != "" {
		u.Location = v
	}
	if v := strings.TrimSpace(e.ProductionType); v != "" {
		u.ProductionType = v
	}
	if v := strings.TrimSpace(e.Characteristics); v != "" {
		u.Characteristics = v
	}
	if d := strings.TrimSpace(e.InstallationDate); d != "" {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return model.Unit{}, eris.Wrapf(err, "unit %q: installation_date", name)
		}
		u.InstallationDate = &t
	}
	return u, nil
}
