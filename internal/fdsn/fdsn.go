// Package fdsn implements the station catalog and waveform data source
// against FDSN web services.
//
// Station metadata comes from the fdsnws station service in its text
// format. Waveforms come from the timeseries service in ASCII form, which
// trades bandwidth for a dependency-free reader. Both clients treat any
// transport or decoding problem as a remote source error, which the
// acquisition stage logs and retries on the next run.
package fdsn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
	"github.com/seisnoise/seisnoise/internal/seis"
	"github.com/seisnoise/seisnoise/internal/store"
)

// DefaultBaseURL is the IRIS federated service endpoint.
const DefaultBaseURL = "https://service.iris.edu"

const timeLayout = "2006-01-02T15:04:05"

// Client talks to one FDSN service host. It serves both the catalog and
// the data source roles.
type Client struct {
	base string
	http *http.Client
}

var (
	_ seis.Catalog    = (*Client)(nil)
	_ seis.DataSource = (*Client)(nil)
)

// NewClient builds a client for the service at base (for example
// DefaultBaseURL).
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// GetChannels implements seis.Catalog via the station service.
func (c *Client) GetChannels(ctx context.Context, networks, stations, channels []string, span chunk.TimeRange, box config.BoundingBox) ([]model.Station, error) {
	q := url.Values{}
	q.Set("level", "channel")
	q.Set("format", "text")
	q.Set("starttime", span.Start.UTC().Format(timeLayout))
	q.Set("endtime", span.End.UTC().Format(timeLayout))
	if len(networks) > 0 {
		q.Set("net", strings.Join(networks, ","))
	}
	if len(stations) > 0 {
		q.Set("sta", strings.Join(stations, ","))
	}
	if len(channels) > 0 {
		q.Set("cha", strings.Join(channels, ","))
	}
	if box.MinLat != 0 || box.MaxLat != 0 {
		q.Set("minlatitude", strconv.FormatFloat(box.MinLat, 'f', -1, 64))
		q.Set("maxlatitude", strconv.FormatFloat(box.MaxLat, 'f', -1, 64))
		q.Set("minlongitude", strconv.FormatFloat(box.MinLon, 'f', -1, 64))
		q.Set("maxlongitude", strconv.FormatFloat(box.MaxLon, 'f', -1, 64))
	}

	body, err := c.get(ctx, "/fdsnws/station/1/query", q)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ParseStationText(body)
}

// Fetch implements seis.DataSource via the timeseries service.
func (c *Client) Fetch(ctx context.Context, ch model.ChannelId, span chunk.TimeRange) (model.WaveformSegment, error) {
	loc := ch.Location
	if loc == "" {
		loc = "--"
	}
	q := url.Values{}
	q.Set("net", ch.Network)
	q.Set("sta", ch.Station)
	q.Set("loc", loc)
	q.Set("cha", ch.Channel)
	q.Set("starttime", span.Start.UTC().Format(timeLayout))
	q.Set("endtime", span.End.UTC().Format(timeLayout))
	q.Set("format", "ascii")

	body, err := c.get(ctx, "/irisws/timeseries/1/query", q)
	if err != nil {
		return model.WaveformSegment{}, err
	}
	defer body.Close()

	blocks, err := ParseTimeseriesASCII(body, ch)
	if err != nil {
		return model.WaveformSegment{}, err
	}
	if len(blocks) == 0 {
		return model.WaveformSegment{Channel: ch, Span: span}, nil
	}

	// A gappy response carries several blocks; only the leading contiguous
	// run can be returned under one span. The remainder stays missing and
	// is requested again on the next run.
	seg, err := store.Stitch(ch, span, blocks)
	if errors.IsNotFound(err) {
		return model.WaveformSegment{Channel: ch, Span: span}, nil
	}
	return seg, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (io.ReadCloser, error) {
	u := c.base + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRemoteSource, "get %s: %v", path, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNoContent:
		resp.Body.Close()
		return io.NopCloser(strings.NewReader("")), nil
	default:
		resp.Body.Close()
		return nil, errors.Wrapf(errors.ErrRemoteSource, "get %s: status %d", path, resp.StatusCode)
	}
}

// ParseStationText parses the station service's pipe-separated text
// format at channel level:
//
//	#Network|Station|Location|Channel|Latitude|Longitude|Elevation|...
func ParseStationText(r io.Reader) ([]model.Station, error) {
	var stations []model.Station
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 7 {
			return nil, errors.NewValidation("station text", fmt.Sprintf("short record %q", line))
		}
		lat, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse latitude")
		}
		lon, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse longitude")
		}
		elev, err := strconv.ParseFloat(fields[6], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse elevation")
		}
		stations = append(stations, model.Station{
			Id: model.ChannelId{
				Network:  fields[0],
				Station:  fields[1],
				Location: fields[2],
				Channel:  fields[3],
			},
			Latitude:  lat,
			Longitude: lon,
			Elevation: elev,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read station text")
	}
	return stations, nil
}

// ParseTimeseriesASCII parses the timeseries service's ASCII format:
//
//	TIMESERIES NET_STA_LOC_CHA_D, 360000 samples, 20 sps, 2016-07-01T00:00:00.000000, SLIST, FLOAT, COUNTS
//	value
//	value
//	...
//
// Every TIMESERIES header opens one contiguous block; gappy data arrives
// as several blocks in a single body. One segment is returned per block so
// callers never see samples under a span they do not belong to. An empty
// body yields no blocks, the no-data outcome.
func ParseTimeseriesASCII(r io.Reader, ch model.ChannelId) ([]model.WaveformSegment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	var blocks []model.WaveformSegment
	var cur model.WaveformSegment
	flush := func() {
		if cur.SampleRate != 0 {
			blocks = append(blocks, cur)
		}
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "TIMESERIES") {
			n, rate, start, err := parseTimeseriesHeader(line)
			if err != nil {
				return nil, err
			}
			flush()
			cur = model.WaveformSegment{
				Channel:    ch,
				SampleRate: rate,
				Span: chunk.TimeRange{
					Start: start,
					End:   start.Add(time.Duration(float64(n) / rate * float64(time.Second))),
				},
				Data: make([]float32, 0, n),
			}
			continue
		}
		if cur.SampleRate == 0 {
			return nil, errors.Wrapf(errors.ErrRemoteSource, "sample %q before any TIMESERIES header", line)
		}
		v, err := strconv.ParseFloat(line, 32)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrRemoteSource, "bad sample %q", line)
		}
		cur.Data = append(cur.Data, float32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read timeseries")
	}
	flush()
	return blocks, nil
}

func parseTimeseriesHeader(line string) (n int, rate float64, start time.Time, err error) {
	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return 0, 0, time.Time{}, errors.Wrapf(errors.ErrRemoteSource, "bad header %q", line)
	}

	sampleField := strings.TrimSpace(parts[1])
	if _, err := fmt.Sscanf(sampleField, "%d samples", &n); err != nil {
		return 0, 0, time.Time{}, errors.Wrapf(errors.ErrRemoteSource, "bad sample count %q", sampleField)
	}

	rateField := strings.TrimSpace(parts[2])
	if _, err := fmt.Sscanf(rateField, "%f sps", &rate); err != nil || rate <= 0 {
		return 0, 0, time.Time{}, errors.Wrapf(errors.ErrRemoteSource, "bad sample rate %q", rateField)
	}

	startField := strings.TrimSpace(parts[3])
	start, err = time.Parse("2006-01-02T15:04:05.000000", startField)
	if err != nil {
		return 0, 0, time.Time{}, errors.Wrapf(errors.ErrRemoteSource, "bad start time %q", startField)
	}
	return n, rate, start.UTC(), nil
}
