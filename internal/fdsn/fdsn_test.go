package fdsn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seisnoise/seisnoise/internal/chunk"
	"github.com/seisnoise/seisnoise/internal/config"
	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
)

const stationText = `#Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime
CI|ARV|00|BHZ|35.1269|-118.83009|258.0|0.0|0.0|-90.0|STS-2|6.27+08|0.2|M/S|40.0|2005-06-07T00:00:00|
CI|BAK|00|BHZ|35.34444|-119.10445|116.0|0.0|0.0|-90.0|STS-2|6.27+08|0.2|M/S|40.0|2004-01-01T00:00:00|
`

func TestParseStationText(t *testing.T) {
	stations, err := ParseStationText(strings.NewReader(stationText))
	if err != nil {
		t.Fatalf("ParseStationText: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("got %d stations, want 2", len(stations))
	}
	want := model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}
	if stations[0].Id != want {
		t.Errorf("first station = %v, want %v", stations[0].Id, want)
	}
	if stations[0].Latitude != 35.1269 {
		t.Errorf("latitude = %v, want 35.1269", stations[0].Latitude)
	}
}

func TestParseTimeseriesASCII(t *testing.T) {
	body := `TIMESERIES CI_ARV_00_BHZ_D, 4 samples, 20 sps, 2016-07-01T00:00:00.000000, SLIST, FLOAT, COUNTS
1.0
-2.5
3.25
0.0
`
	ch := model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}
	blocks, err := ParseTimeseriesASCII(strings.NewReader(body), ch)
	if err != nil {
		t.Fatalf("ParseTimeseriesASCII: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	seg := blocks[0]
	if seg.SampleRate != 20 {
		t.Errorf("SampleRate = %v, want 20", seg.SampleRate)
	}
	if len(seg.Data) != 4 || seg.Data[1] != -2.5 {
		t.Errorf("Data = %v, want 4 samples starting 1.0 -2.5", seg.Data)
	}
	wantStart := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	if !seg.Span.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", seg.Span.Start, wantStart)
	}
}

func TestParseTimeseriesGappyBody(t *testing.T) {
	// Gappy data arrives as one TIMESERIES block per contiguous run. Each
	// block must keep its own span; mixing them would shift the second
	// block's samples into the gap.
	body := `TIMESERIES CI_ARV_00_BHZ_D, 3 samples, 1 sps, 2016-07-01T00:00:00.000000, SLIST, FLOAT, COUNTS
1.0
2.0
3.0
TIMESERIES CI_ARV_00_BHZ_D, 3 samples, 1 sps, 2016-07-01T01:00:00.000000, SLIST, FLOAT, COUNTS
4.0
5.0
6.0
`
	ch := model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}
	blocks, err := ParseTimeseriesASCII(strings.NewReader(body), ch)
	if err != nil {
		t.Fatalf("ParseTimeseriesASCII: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}

	t0 := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	if !blocks[0].Span.Start.Equal(t0) || !blocks[0].Span.End.Equal(t0.Add(3*time.Second)) {
		t.Errorf("first block span = %v, want 3s from midnight", blocks[0].Span)
	}
	if !blocks[1].Span.Start.Equal(t0.Add(time.Hour)) {
		t.Errorf("second block starts %v, want 01:00:00", blocks[1].Span.Start)
	}
	if len(blocks[0].Data) != 3 || len(blocks[1].Data) != 3 {
		t.Errorf("block sizes %d/%d, want 3/3", len(blocks[0].Data), len(blocks[1].Data))
	}
	if blocks[1].Data[0] != 4.0 {
		t.Errorf("second block starts with %v, want 4.0", blocks[1].Data[0])
	}
}

func TestParseTimeseriesEmptyBody(t *testing.T) {
	ch := model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}
	blocks, err := ParseTimeseriesASCII(strings.NewReader(""), ch)
	if err != nil {
		t.Fatalf("ParseTimeseriesASCII: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("empty body produced %d blocks, want none", len(blocks))
	}
}

func TestParseTimeseriesRejectsHeaderlessSamples(t *testing.T) {
	ch := model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}
	_, err := ParseTimeseriesASCII(strings.NewReader("1.0\n2.0\n"), ch)
	if !errors.IsRemote(err) {
		t.Errorf("error = %v, want remote source error", err)
	}
}

func TestClientAgainstStubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/fdsnws/station"):
			w.Write([]byte(stationText))
		case strings.HasPrefix(r.URL.Path, "/irisws/timeseries"):
			if r.URL.Query().Get("sta") == "NODATA" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Write([]byte("TIMESERIES CI_ARV_00_BHZ_D, 2 samples, 20 sps, 2016-07-01T00:00:00.000000, SLIST, FLOAT, COUNTS\n1.0\n2.0\n"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 2, 0, 0, 0, 0, time.UTC),
	}

	stations, err := c.GetChannels(ctx, []string{"CI"}, nil, []string{"BHZ"}, span, config.BoundingBox{})
	if err != nil {
		t.Fatalf("GetChannels: %v", err)
	}
	if len(stations) != 2 {
		t.Errorf("got %d stations, want 2", len(stations))
	}

	seg, err := c.Fetch(ctx, stations[0].Id, span)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(seg.Data) != 2 {
		t.Errorf("got %d samples, want 2", len(seg.Data))
	}

	empty, err := c.Fetch(ctx, model.ChannelId{Network: "CI", Station: "NODATA", Location: "00", Channel: "BHZ"}, span)
	if err != nil {
		t.Fatalf("Fetch no-data: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("no-data fetch returned samples, want empty segment")
	}
}

func TestFetchGappyResponseReturnsLeadingRun(t *testing.T) {
	body := `TIMESERIES CI_ARV_00_BHZ_D, 3 samples, 1 sps, 2016-07-01T00:00:00.000000, SLIST, FLOAT, COUNTS
1.0
2.0
3.0
TIMESERIES CI_ARV_00_BHZ_D, 3 samples, 1 sps, 2016-07-01T01:00:00.000000, SLIST, FLOAT, COUNTS
4.0
5.0
6.0
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 1, 2, 0, 0, 0, time.UTC),
	}
	seg, err := c.Fetch(context.Background(), model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}, span)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// Only the first contiguous block comes back under its own span; the
	// rest of the requested range stays missing for the next run.
	if len(seg.Data) != 3 {
		t.Errorf("got %d samples, want the 3 of the first block", len(seg.Data))
	}
	if !seg.Span.Start.Equal(span.Start) || !seg.Span.End.Equal(span.Start.Add(3*time.Second)) {
		t.Errorf("span = %v, want the first block's 3 seconds", seg.Span)
	}
}

func TestServerErrorIsRemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	span := chunk.TimeRange{
		Start: time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2016, 7, 2, 0, 0, 0, 0, time.UTC),
	}
	_, err := c.Fetch(context.Background(), model.ChannelId{Network: "CI", Station: "ARV", Location: "00", Channel: "BHZ"}, span)
	if !errors.IsRemote(err) {
		t.Errorf("Fetch = %v, want remote source error", err)
	}
}
