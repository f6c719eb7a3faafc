// Package flat implements the pipeline stores on flat float32 arrays.
//
// Each entry is a pair of files: a .f32 payload holding the raw samples
// as little-endian IEEE-754 float32, and a .yaml sidecar carrying the
// metadata the samples cannot. The payload is readable by any numeric
// tool that can memory-map a typed array, which is the point of this
// backend. Directory layout is identical to the Parquet backend, so the
// two are interchangeable behind the store interfaces.
package flat

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// PayloadExt is the extension of the sample payload file.
	PayloadExt = ".f32"
	// SidecarExt is the extension of the metadata sidecar file.
	SidecarExt = ".yaml"
)

// segmentMeta is the sidecar of a raw waveform payload.
type segmentMeta struct {
	Channel    string    `yaml:"channel"`
	Start      time.Time `yaml:"start"`
	End        time.Time `yaml:"end"`
	SampleRate float64   `yaml:"sample_rate"`
	Samples    int       `yaml:"samples"`
}

// correlationMeta is the sidecar of a per-window correlation payload.
type correlationMeta struct {
	Source     string    `yaml:"source"`
	Receiver   string    `yaml:"receiver"`
	Start      time.Time `yaml:"start"`
	End        time.Time `yaml:"end"`
	SampleRate float64   `yaml:"sample_rate"`
	MaxLagSec  float64   `yaml:"max_lag_sec"`
	Samples    int       `yaml:"samples"`
}

// stackMeta is the sidecar of a stacked correlation payload.
type stackMeta struct {
	Source      string  `yaml:"source"`
	Receiver    string  `yaml:"receiver"`
	Method      string  `yaml:"method"`
	SampleRate  float64 `yaml:"sample_rate"`
	MaxLagSec   float64 `yaml:"max_lag_sec"`
	WindowCount int     `yaml:"window_count"`
	Samples     int     `yaml:"samples"`
}

// writeEntry atomically writes the payload and sidecar for base (a path
// without extension). The sidecar lands last so a visible sidecar always
// has a complete payload next to it.
func writeEntry(base string, data []float32, meta any) error {
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if err := atomicWrite(base+PayloadExt, buf); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	doc, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := atomicWrite(base+SidecarExt, doc); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// readPayload reads the .f32 samples for base.
func readPayload(base string) ([]float32, error) {
	buf, err := os.ReadFile(base + PayloadExt)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("payload %s: truncated (%d bytes)", base+PayloadExt, len(buf))
	}
	data := make([]float32, len(buf)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return data, nil
}

// readSidecar unmarshals the .yaml sidecar for base into meta.
func readSidecar(base string, meta any) error {
	doc, err := os.ReadFile(base + SidecarExt)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(doc, meta); err != nil {
		return fmt.Errorf("parse sidecar %s: %w", base+SidecarExt, err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
