package model

import (
	"fmt"
	"sort"
	"strings"
)

// ChannelId identifies one recording stream: one component of one station's
// sensor. No two channels share all four fields within one catalog.
type ChannelId struct {
	Network  string
	Station  string
	Channel  string
	Location string
}

// String returns the dotted SEED-style form "NET.STA.LOC.CHA".
func (c ChannelId) String() string {
	loc := c.Location
	if loc == "" || loc == "*" {
		loc = "00"
	}
	return c.Network + "." + c.Station + "." + loc + "." + c.Channel
}

// StationCode returns the "NET.STA" prefix shared by all of a station's
// channels.
func (c ChannelId) StationCode() string {
	return c.Network + "." + c.Station
}

// ParseChannelId parses the dotted form produced by String.
func ParseChannelId(s string) (ChannelId, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ChannelId{}, fmt.Errorf("malformed channel id %q", s)
	}
	return ChannelId{
		Network:  parts[0],
		Station:  parts[1],
		Location: parts[2],
		Channel:  parts[3],
	}, nil
}

// Station carries a channel plus its location metadata from the catalog.
type Station struct {
	Id        ChannelId
	Latitude  float64
	Longitude float64
	Elevation float64
}

// PairKey identifies a cross-correlation or stack product. The pair is
// unordered: NewPairKey canonicalizes so (a,b) and (b,a) produce the same
// key.
type PairKey struct {
	Source   ChannelId
	Receiver ChannelId
}

// NewPairKey builds the canonical key for two channels. The
// lexicographically smaller channel becomes the source side.
func NewPairKey(a, b ChannelId) PairKey {
	if a.String() <= b.String() {
		return PairKey{Source: a, Receiver: b}
	}
	return PairKey{Source: b, Receiver: a}
}

// String returns "NET.STA.LOC.CHA_NET.STA.LOC.CHA".
func (p PairKey) String() string {
	return p.Source.String() + "_" + p.Receiver.String()
}

// IsAuto reports whether both sides are the same channel.
func (p PairKey) IsAuto() bool {
	return p.Source == p.Receiver
}

// ParsePairKey parses the form produced by String.
func ParsePairKey(s string) (PairKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return PairKey{}, fmt.Errorf("malformed pair key %q", s)
	}
	src, err := ParseChannelId(parts[0])
	if err != nil {
		return PairKey{}, err
	}
	rcv, err := ParseChannelId(parts[1])
	if err != nil {
		return PairKey{}, err
	}
	return PairKey{Source: src, Receiver: rcv}, nil
}

// Pairs enumerates the canonical channel pairs of a roster, sorted for
// deterministic iteration order. Auto-correlation pairs are included only
// when includeAuto is set.
func Pairs(channels []ChannelId, includeAuto bool) []PairKey {
	sorted := make([]ChannelId, len(channels))
	copy(sorted, channels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	var pairs []PairKey
	for i := range sorted {
		start := i + 1
		if includeAuto {
			start = i
		}
		for j := start; j < len(sorted); j++ {
			pairs = append(pairs, PairKey{Source: sorted[i], Receiver: sorted[j]})
		}
	}
	return pairs
}
