package entsoe

import (
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	rootGeneration      = "GL_MarketDocument"
	rootAcknowledgement = "Acknowledgement_MarketDocument"

	// reasonNoData is the acknowledgement code for an empty result.
	reasonNoData = "999"
)

// Metric kinds written into the second metadata row of a raw export.
const (
	MetricAggregated  = "Actual Aggregated"
	MetricConsumption = "Actual Consumption"
)

type xmlTimeSeries struct {
	MRID      string `xml:"mRID"`
	InDomain  string `xml:"inBiddingZone_Domain.mRID"`
	OutDomain string `xml:"outBiddingZone_Domain.mRID"`
	PSR       struct {
		Type     string `xml:"psrType"`
		Resource struct {
			MRID string `xml:"mRID"`
			Name string `xml:"name"`
		} `xml:"PowerSystemResources"`
	} `xml:"MktPSRType"`
	Periods []xmlPeriod `xml:"Period"`
}

type xmlPeriod struct {
	Start      string     `xml:"timeInterval>start"`
	End        string     `xml:"timeInterval>end"`
	Resolution string     `xml:"resolution"`
	Points     []xmlPoint `xml:"Point"`
}

type xmlPoint struct {
	Position int     `xml:"position"`
	Quantity float64 `xml:"quantity"`
}

type xmlReason struct {
	Code string `xml:"code"`
	Text string `xml:"text"`
}

// Point is one reading of a series.
type Point struct {
	Time     time.Time
	Quantity float64
}

// Series is the readings of one unit for one metric kind.
type Series struct {
	UnitMRID   string
	Unit       string
	PSRType    string
	Technology string
	Metric     string
	Points     []Point
}

// key identifies a series across request chunks.
func (s Series) key() string {
	id := s.UnitMRID
	if id == "" {
		id = s.Unit
	}
	return id + "|" + s.Metric
}

// ISO-8601 timestamps in the documents omit seconds.
var intervalLayouts = []string{"2006-01-02T15:04Z07:00", time.RFC3339}

func parseIntervalTime(s string) (time.Time, error) {
	for _, layout := range intervalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("entsoe: invalid interval time %q", s)
}

var resolutionPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?)?$`)

// parseResolution converts an ISO-8601 duration such as PT15M or PT1H.
func parseResolution(s string) (time.Duration, error) {
	m := resolutionPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, eris.Errorf("entsoe: unsupported resolution %q", s)
	}
	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		d += time.Duration(n) * u
	}
	if d <= 0 {
		return 0, eris.Errorf("entsoe: unsupported resolution %q", s)
	}
	return d, nil
}

// toSeries converts a decoded TimeSeries. A series carrying an
// outBiddingZone is consumption.
func (ts xmlTimeSeries) toSeries() (Series, error) {
	s := Series{
		UnitMRID:   ts.PSR.Resource.MRID,
		Unit:       ts.PSR.Resource.Name,
		PSRType:    ts.PSR.Type,
		Technology: Technology(ts.PSR.Type),
		Metric:     MetricAggregated,
	}
	if s.Unit == "" {
		s.Unit = s.UnitMRID
	}
	if ts.OutDomain != "" {
		s.Metric = MetricConsumption
	}

	for _, p := range ts.Periods {
		start, err := parseIntervalTime(p.Start)
		if err != nil {
			return Series{}, err
		}
		res, err := parseResolution(p.Resolution)
		if err != nil {
			return Series{}, err
		}
		for _, pt := range p.Points {
			if pt.Position < 1 {
				continue
			}
			s.Points = append(s.Points, Point{
				Time:     start.Add(time.Duration(pt.Position-1) * res),
				Quantity: pt.Quantity,
			})
		}
	}
	return s, nil
}
