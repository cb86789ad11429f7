// Package entsoe is a client for the ENTSO-E Transparency Platform
// "actual generation per generation unit" document (A73).
package entsoe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/fetcher"
	"github.com/sells-group/gensync/internal/resilience"
	"github.com/sells-group/gensync/internal/timeseries"
)

const (
	// DefaultBaseURL is the public REST endpoint.
	DefaultBaseURL = "https://web-api.tp.entsoe.eu/api"
	// AreaFrance is the RTE control area.
	AreaFrance = "10YFR-RTE------C"

	documentActualGeneration = "A73"
	processRealised          = "A16"
	periodLayout             = "200601021504"
)

// Source returns the per-unit generation series for area over [start, end).
// Callers guarantee start < end.
type Source interface {
	GenerationPerUnit(ctx context.Context, area string, start, end time.Time) ([]Series, error)
}

// Options configures the Client.
type Options struct {
	BaseURL string
	Token   string
	// MaxRequestSpan splits longer windows into consecutive requests.
	MaxRequestSpan time.Duration
}

// Client implements Source over HTTP.
type Client struct {
	http fetcher.Fetcher
	opts Options
	log  *zap.Logger
}

// NewClient creates a Client that issues requests through f.
func NewClient(f fetcher.Fetcher, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxRequestSpan <= 0 {
		opts.MaxRequestSpan = 24 * time.Hour
	}
	return &Client{
		http: f,
		opts: opts,
		log:  zap.L().With(zap.String("component", "entsoe.client")),
	}
}

// GenerationPerUnit fetches the window chunk by chunk and merges the series
// of each unit across chunks.
func (c *Client) GenerationPerUnit(ctx context.Context, area string, start, end time.Time) ([]Series, error) {
	if c.opts.Token == "" {
		return nil, eris.New("entsoe: security token is not configured")
	}
	start = start.UTC().Truncate(time.Minute)
	end = end.UTC().Truncate(time.Minute)
	window := timeseries.Window{Start: start, End: end}
	if !window.Valid() {
		return nil, eris.Errorf("entsoe: empty window [%s, %s)", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	merged := make(map[string]*Series)
	var order []string
	for _, chunk := range window.Split(c.opts.MaxRequestSpan) {
		series, err := c.fetchChunk(ctx, area, chunk)
		if err != nil {
			return nil, err
		}
		for _, s := range series {
			k := s.key()
			if m, ok := merged[k]; ok {
				m.Points = append(m.Points, s.Points...)
				continue
			}
			merged[k] = &s
			order = append(order, k)
		}
	}

	out := make([]Series, 0, len(order))
	for _, k := range order {
		s := merged[k]
		slices.SortStableFunc(s.Points, func(a, b Point) int { return a.Time.Compare(b.Time) })
		out = append(out, *s)
	}
	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, area string, w timeseries.Window) ([]Series, error) {
	q := url.Values{
		"documentType":  {documentActualGeneration},
		"processType":   {processRealised},
		"in_Domain":     {area},
		"periodStart":   {w.Start.UTC().Format(periodLayout)},
		"periodEnd":     {w.End.UTC().Format(periodLayout)},
		"securityToken": {c.opts.Token},
	}

	log := c.log.With(zap.String("area", area), zap.Time("start", w.Start), zap.Time("end", w.End))
	body, err := c.http.Get(ctx, c.opts.BaseURL, q)
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest && isNoData(ctx, []byte(se.Body)) {
			log.Info("no data for chunk")
			return nil, nil
		}
		wrapped := eris.Wrap(err, "entsoe: fetch")
		if resilience.IsTransient(err) {
			var te *resilience.TransientError
			code := 0
			if errors.As(err, &te) {
				code = te.StatusCode
			}
			return nil, resilience.NewTransientError(wrapped, code)
		}
		return nil, wrapped
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "entsoe: read body")
	}

	series, err := decode(ctx, data)
	if err != nil {
		return nil, err
	}
	log.Debug("fetched chunk", zap.Int("series", len(series)))
	return series, nil
}

// decode parses a response document. An acknowledgement reporting no data
// decodes to no series.
func decode(ctx context.Context, data []byte) ([]Series, error) {
	root, err := fetcher.RootElement(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "entsoe: decode")
	}

	switch root {
	case rootGeneration:
		raw, err := fetcher.CollectXML[xmlTimeSeries](ctx, bytes.NewReader(data), "TimeSeries")
		if err != nil {
			return nil, eris.Wrap(err, "entsoe: decode time series")
		}
		out := make([]Series, 0, len(raw))
		for _, ts := range raw {
			s, err := ts.toSeries()
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil

	case rootAcknowledgement:
		reasons, err := fetcher.CollectXML[xmlReason](ctx, bytes.NewReader(data), "Reason")
		if err != nil {
			return nil, eris.Wrap(err, "entsoe: decode acknowledgement")
		}
		var texts []string
		for _, r := range reasons {
			if r.Code == reasonNoData {
				return nil, nil
			}
			texts = append(texts, r.Code+": "+r.Text)
		}
		return nil, eris.Errorf("entsoe: request rejected: %s", strings.Join(texts, "; "))

	default:
		return nil, eris.Errorf("entsoe: unexpected document %q", root)
	}
}

func isNoData(ctx context.Context, body []byte) bool {
	series, err := decode(ctx, body)
	return err == nil && len(series) == 0
}
