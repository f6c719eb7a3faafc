package acquire

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/seisnoise/seisnoise/internal/errors"
	"github.com/seisnoise/seisnoise/internal/model"
)

// RosterFile is the station roster written next to the run metadata.
const RosterFile = "station.txt"

var rosterHeader = []string{"network", "station", "channel", "location", "latitude", "longitude", "elevation"}

// WriteRoster persists the station list as CSV. The roster is a run
// artifact for humans and downstream tooling; the pipeline itself reads
// channels back from the raw store.
func WriteRoster(dir string, stations []model.Station) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create roster directory")
	}
	f, err := os.Create(filepath.Join(dir, RosterFile))
	if err != nil {
		return errors.Wrap(err, "create roster")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(rosterHeader); err != nil {
		return errors.Wrap(err, "write roster header")
	}
	for _, st := range stations {
		rec := []string{
			st.Id.Network,
			st.Id.Station,
			st.Id.Channel,
			st.Id.Location,
			strconv.FormatFloat(st.Latitude, 'f', 4, 64),
			strconv.FormatFloat(st.Longitude, 'f', 4, 64),
			strconv.FormatFloat(st.Elevation, 'f', 1, 64),
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrap(err, "write roster record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush roster")
	}
	return f.Close()
}

// ReadRoster loads a station roster written by WriteRoster.
func ReadRoster(dir string) ([]model.Station, error) {
	f, err := os.Open(filepath.Join(dir, RosterFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("station roster", dir)
		}
		return nil, errors.Wrap(err, "open roster")
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse roster")
	}

	var stations []model.Station
	for i, rec := range records {
		if i == 0 {
			continue
		}
		if len(rec) != len(rosterHeader) {
			return nil, errors.NewValidation("roster", "unexpected record length")
		}
		lat, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse latitude")
		}
		lon, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse longitude")
		}
		elev, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse elevation")
		}
		stations = append(stations, model.Station{
			Id: model.ChannelId{
				Network:  rec[0],
				Station:  rec[1],
				Channel:  rec[2],
				Location: rec[3],
			},
			Latitude:  lat,
			Longitude: lon,
			Elevation: elev,
		})
	}
	return stations, nil
}
