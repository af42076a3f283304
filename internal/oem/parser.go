package oem

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/star/isstrack/internal/vectors"
)

// XML layout of a CCSDS OEM wrapped in an NDM document, as published by
// NASA for the ISS:
//
//	<ndm><oem><header>...</header><body><segment>
//	  <metadata>...</metadata>
//	  <data><stateVector><EPOCH/><X units="km"/>...<Z_DOT units="km/s"/></stateVector>...</data>
//	</segment></body></oem></ndm>
type ndmDocument struct {
	XMLName xml.Name    `xml:"ndm"`
	OEM     oemDocument `xml:"oem"`
}

type oemDocument struct {
	Header struct {
		CreationDate string `xml:"CREATION_DATE"`
		Originator   string `xml:"ORIGINATOR"`
	} `xml:"header"`
	Body struct {
		Segments []segment `xml:"segment"`
	} `xml:"body"`
}

type segment struct {
	Metadata struct {
		ObjectName string `xml:"OBJECT_NAME"`
		ObjectID   string `xml:"OBJECT_ID"`
		CenterName string `xml:"CENTER_NAME"`
		RefFrame   string `xml:"REF_FRAME"`
		TimeSystem string `xml:"TIME_SYSTEM"`
		StartTime  string `xml:"START_TIME"`
		StopTime   string `xml:"STOP_TIME"`
	} `xml:"metadata"`
	Data struct {
		StateVectors []stateVector `xml:"stateVector"`
	} `xml:"data"`
}

type stateVector struct {
	Epoch string      `xml:"EPOCH"`
	X     measurement `xml:"X"`
	Y     measurement `xml:"Y"`
	Z     measurement `xml:"Z"`
	XDot  measurement `xml:"X_DOT"`
	YDot  measurement `xml:"Y_DOT"`
	ZDot  measurement `xml:"Z_DOT"`
}

type measurement struct {
	Units string `xml:"units,attr"`
	Value string `xml:",chardata"`
}

// Parse decodes an OEM document into segment metadata and state vectors.
//
// Parsing is strict: one malformed epoch, number or unit rejects the whole
// document with an InvalidTable error, so a bad payload can never be
// partially installed.
func Parse(r io.Reader) (vectors.Metadata, []vectors.StateVector, error) {
	var doc ndmDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return vectors.Metadata{}, nil, vectors.NewError(vectors.KindInvalidTable, "parse oem", err)
	}
	if len(doc.OEM.Body.Segments) == 0 {
		return vectors.Metadata{}, nil, vectors.Errorf(vectors.KindInvalidTable, "parse oem", "document has no segments")
	}

	first := doc.OEM.Body.Segments[0].Metadata
	md := vectors.Metadata{
		ObjectName:   strings.TrimSpace(first.ObjectName),
		ObjectID:     strings.TrimSpace(first.ObjectID),
		CenterName:   strings.TrimSpace(first.CenterName),
		RefFrame:     strings.TrimSpace(first.RefFrame),
		TimeSystem:   strings.TrimSpace(first.TimeSystem),
		StartTime:    strings.TrimSpace(first.StartTime),
		StopTime:     strings.TrimSpace(doc.OEM.Body.Segments[len(doc.OEM.Body.Segments)-1].Metadata.StopTime),
		CreationDate: strings.TrimSpace(doc.OEM.Header.CreationDate),
	}

	var out []vectors.StateVector
	for si, seg := range doc.OEM.Body.Segments {
		for vi, raw := range seg.Data.StateVectors {
			sv, err := convert(raw)
			if err != nil {
				return vectors.Metadata{}, nil, vectors.NewError(vectors.KindInvalidTable, "parse oem",
					fmt.Errorf("segment %d state vector %d: %w", si, vi, err))
			}
			out = append(out, sv)
		}
	}
	if len(out) == 0 {
		return vectors.Metadata{}, nil, vectors.Errorf(vectors.KindInvalidTable, "parse oem", "document has no state vectors")
	}

	return md, out, nil
}

func convert(raw stateVector) (vectors.StateVector, error) {
	epochStr := strings.TrimSpace(raw.Epoch)
	epoch, err := vectors.ParseEpoch(epochStr)
	if err != nil {
		return vectors.StateVector{}, err
	}

	var vals [6]float64
	fields := [6]struct {
		name  string
		m     measurement
		units string
	}{
		{"X", raw.X, "km"},
		{"Y", raw.Y, "km"},
		{"Z", raw.Z, "km"},
		{"X_DOT", raw.XDot, "km/s"},
		{"Y_DOT", raw.YDot, "km/s"},
		{"Z_DOT", raw.ZDot, "km/s"},
	}
	for i, f := range fields {
		if u := strings.TrimSpace(f.m.Units); u != "" && u != f.units {
			return vectors.StateVector{}, fmt.Errorf("%s at %s: units %q, want %q", f.name, epochStr, u, f.units)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(f.m.Value), 64)
		if err != nil {
			return vectors.StateVector{}, vectors.NewError(vectors.KindInvalidValue, "parse oem",
				fmt.Errorf("%s at %s: %w", f.name, epochStr, err))
		}
		vals[i] = v
	}

	sv := vectors.StateVector{
		Epoch:    epoch,
		RawEpoch: epochStr,
		Position: vectors.Vec3{X: vals[0], Y: vals[1], Z: vals[2]},
		Velocity: vectors.Vec3{X: vals[3], Y: vals[4], Z: vals[5]},
	}
	if !sv.Position.IsFinite() || !sv.Velocity.IsFinite() {
		return vectors.StateVector{}, vectors.Errorf(vectors.KindInvalidValue, "parse oem", "non-finite component at %s", epochStr)
	}
	return sv, nil
}
