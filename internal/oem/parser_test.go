package oem

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/star/isstrack/internal/vectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOEM = `<?xml version="1.0" encoding="UTF-8"?>
<ndm xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <oem id="CCSDS_OEM_VERS" version="2.0">
    <header>
      <CREATION_DATE>2025-050T08:10:25.531Z</CREATION_DATE>
      <ORIGINATOR>JSC</ORIGINATOR>
    </header>
    <body>
      <segment>
        <metadata>
          <OBJECT_NAME>ISS</OBJECT_NAME>
          <OBJECT_ID>1998-067-A</OBJECT_ID>
          <CENTER_NAME>EARTH</CENTER_NAME>
          <REF_FRAME>EME2000</REF_FRAME>
          <TIME_SYSTEM>UTC</TIME_SYSTEM>
          <START_TIME>2025-050T12:00:00.000Z</START_TIME>
          <STOP_TIME>2025-065T12:00:00.000Z</STOP_TIME>
        </metadata>
        <data>
          <stateVector>
            <EPOCH>2025-050T12:00:00.000Z</EPOCH>
            <X units="km">-4942.1309</X>
            <Y units="km">-2829.6548</Y>
            <Z units="km">3658.4917</Z>
            <X_DOT units="km/s">4.0357</X_DOT>
            <Y_DOT units="km/s">-5.5716</Y_DOT>
            <Z_DOT units="km/s">1.1432</Z_DOT>
          </stateVector>
          <stateVector>
            <EPOCH>2025-050T12:04:00.000Z</EPOCH>
            <X units="km">-3814.5570</X>
            <Y units="km">-4071.1226</Y>
            <Z units="km">3772.2460</Z>
            <X_DOT units="km/s">5.2876</X_DOT>
            <Y_DOT units="km/s">-4.6937</Y_DOT>
            <Z_DOT units="km/s">-0.3252</Z_DOT>
          </stateVector>
          <stateVector>
            <EPOCH>2025-050T12:08:00.000Z</EPOCH>
            <X units="km">-2436.9437</X>
            <Y units="km">-5037.3830</Y>
            <Z units="km">3543.9580</Z>
            <X_DOT units="km/s">6.1225</X_DOT>
            <Y_DOT units="km/s">-3.3856</Y_DOT>
            <Z_DOT units="km/s">-1.5567</Z_DOT>
          </stateVector>
        </data>
      </segment>
    </body>
  </oem>
</ndm>`

func TestParseSample(t *testing.T) {
	md, svs, err := Parse(strings.NewReader(sampleOEM))
	require.NoError(t, err)

	wantMD := vectors.Metadata{
		ObjectName:   "ISS",
		ObjectID:     "1998-067-A",
		CenterName:   "EARTH",
		RefFrame:     "EME2000",
		TimeSystem:   "UTC",
		StartTime:    "2025-050T12:00:00.000Z",
		StopTime:     "2025-065T12:00:00.000Z",
		CreationDate: "2025-050T08:10:25.531Z",
	}
	if diff := cmp.Diff(wantMD, md); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, svs, 3)
	first, err := vectors.ParseEpoch("2025-050T12:00:00.000Z")
	require.NoError(t, err)
	want := vectors.StateVector{
		Epoch:    first,
		RawEpoch: "2025-050T12:00:00.000Z",
		Position: vectors.Vec3{X: -4942.1309, Y: -2829.6548, Z: 3658.4917},
		Velocity: vectors.Vec3{X: 4.0357, Y: -5.5716, Z: 1.1432},
	}
	if diff := cmp.Diff(want, svs[0], cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("first vector mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "2025-050T12:08:00.000Z", svs[2].RawEpoch)
}

func TestParseRejectsWholeDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "ISS (ZARYA)\n1 25544U"},
		{"malformed epoch", strings.Replace(sampleOEM, "2025-050T12:04:00.000Z", "2025-50T12:04:00Z", 1)},
		{"non numeric component", strings.Replace(sampleOEM, "-3814.5570", "n/a", 1)},
		{"wrong units", strings.Replace(sampleOEM, `<X units="km">-2436.9437`, `<X units="m">-2436943.7`, 1)},
		{"no segments", `<ndm><oem><header/><body/></oem></ndm>`},
		{"empty data", `<ndm><oem><body><segment><metadata/><data/></segment></body></oem></ndm>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svs, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Nil(t, svs)
			assert.Equal(t, vectors.KindInvalidTable, vectors.KindOf(err))
		})
	}
}

func TestParseMalformedEpochKeepsCause(t *testing.T) {
	doc := strings.Replace(sampleOEM, "2025-050T12:04:00.000Z", "2025-050 12:04:00", 1)
	_, _, err := Parse(strings.NewReader(doc))
	assert.ErrorIs(t, err, vectors.ErrInvalidTable)
	assert.ErrorIs(t, err, vectors.ErrEpochFormat)
}
