package telemetry_test

import (
	"math"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/illmade-knight/go-telemetry-relay/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReport(t *testing.T) {
	testCases := []struct {
		name      string
		body      string
		expectErr error
	}{
		{
			name: "Success case: required fields only",
			body: `{"user_id":"u1","lat":37.77,"lon":-122.41}`,
		},
		{
			name: "Success case: optional fields present",
			body: `{"user_id":"u1","lat":37.77,"lon":-122.41,"accuracy_m":4.5,"unit_label":"Alpha-3"}`,
		},
		{
			name: "Success case: equator and prime meridian",
			body: `{"user_id":"u1","lat":0,"lon":0}`,
		},
		{
			name: "Edge case: inclusive bounds",
			body: `{"user_id":"u1","lat":-90,"lon":180}`,
		},
		{
			name: "Edge case: unknown fields are ignored",
			body: `{"user_id":"u1","lat":1,"lon":2,"battery":0.4}`,
		},
		{
			name: "Edge case: negative accuracy passes through",
			body: `{"user_id":"u1","lat":1,"lon":2,"accuracy_m":-3}`,
		},
		{
			name:      "Failure case: malformed JSON",
			body:      `{"user_id":"u1","lat":`,
			expectErr: telemetry.ErrMalformedReport,
		},
		{
			name:      "Failure case: lat is a string",
			body:      `{"user_id":"u1","lat":"37.7","lon":1}`,
			expectErr: telemetry.ErrMalformedReport,
		},
		{
			name:      "Failure case: missing lat",
			body:      `{"user_id":"u1","lon":1}`,
			expectErr: telemetry.ErrMalformedReport,
		},
		{
			name:      "Failure case: missing user_id",
			body:      `{"lat":1,"lon":1}`,
			expectErr: telemetry.ErrMalformedReport,
		},
		{
			name:      "Failure case: empty user_id",
			body:      `{"user_id":"","lat":1,"lon":1}`,
			expectErr: telemetry.ErrMalformedReport,
		},
		{
			name:      "Failure case: trailing data",
			body:      `{"user_id":"u1","lat":1,"lon":1}{"user_id":"u2"}`,
			expectErr: telemetry.ErrMalformedReport,
		},
		{
			name:      "Failure case: lat above range",
			body:      `{"user_id":"u1","lat":200.0,"lon":1}`,
			expectErr: telemetry.ErrCoordinatesOutOfRange,
		},
		{
			name:      "Failure case: lon below range",
			body:      `{"user_id":"u1","lat":1,"lon":-180.0001}`,
			expectErr: telemetry.ErrCoordinatesOutOfRange,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Act ---
			report, err := telemetry.DecodeReport(strings.NewReader(tc.body))

			// --- Assert ---
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", report.UserID)
		})
	}
}

func TestDecodeReport_MissingFieldMessage(t *testing.T) {
	_, err := telemetry.DecodeReport(strings.NewReader(`{"user_id":"u1","lat":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lon is required")
}

func TestReport_Validate_NonFinite(t *testing.T) {
	testCases := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{name: "NaN latitude", lat: math.NaN(), lon: 0},
		{name: "positive infinite longitude", lat: 0, lon: math.Inf(1)},
		{name: "negative infinite latitude", lat: math.Inf(-1), lon: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := telemetry.Report{UserID: "u1", Lat: tc.lat, Lon: tc.lon}.Validate()
			assert.ErrorIs(t, err, telemetry.ErrNonFiniteCoordinates)
		})
	}
}

func TestEnvelope_Marshal(t *testing.T) {
	t.Run("absent optional fields are forwarded as null", func(t *testing.T) {
		// --- Arrange ---
		report, err := telemetry.DecodeReport(strings.NewReader(`{"user_id":"u1","lat":37.77,"lon":-122.41}`))
		require.NoError(t, err)

		// --- Act ---
		payload, err := telemetry.NewEnvelope(report).Marshal()

		// --- Assert ---
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"event":"duty_location_update","data":{"user_id":"u1","lat":37.77,"lon":-122.41,"accuracy_m":null,"unit_label":null}}`,
			string(payload))
	})

	t.Run("payload is carried unmodified", func(t *testing.T) {
		accuracy := 12.5
		label := "Unit 7"
		original := telemetry.Report{UserID: "u9", Lat: -33.86, Lon: 151.21, AccuracyM: &accuracy, UnitLabel: &label}

		payload, err := telemetry.NewEnvelope(original).Marshal()
		require.NoError(t, err)

		var decoded telemetry.Envelope
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, telemetry.EventName, decoded.Event)
		assert.Equal(t, original, decoded.Data)
	})
}
