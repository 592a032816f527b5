package tangram

import (
	"bytes"
	"compress/zlib"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// compressZlib deflates data for the compressed-payload decode tests.
func compressZlib(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	return buf.Bytes()
}

func TestDecodeFrame_Envelope(t *testing.T) {
	jsonData := []byte(`{
		"observations": [
			{"id": "p1", "type": "square", "x": 100, "y": 200, "rotation": 0.5, "flipped": false, "vx": 1, "vy": -2},
			{"id": "p2", "type": "parallelogram", "x": 300, "y": 400, "rotation": -0.25, "flipped": true}
		],
		"groups": {"g1": ["p1", "p2"]},
		"timestampMs": 1717243200000
	}`)

	frame, err := DecodeFrame(jsonData)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	if len(frame.Observations) != 2 {
		t.Fatalf("Observations count = %d, want 2", len(frame.Observations))
	}

	p1 := frame.Observations[0]
	if p1.ID != "p1" || p1.Type != PieceSquare {
		t.Errorf("first observation = %s/%s, want p1/square", p1.ID, p1.Type)
	}
	if !pointsEqual(p1.Position, Point{X: 100, Y: 200}) {
		t.Errorf("Position = %v, want (100, 200)", p1.Position)
	}
	if !almostEqual(p1.Rotation, 0.5) {
		t.Errorf("Rotation = %v, want 0.5", p1.Rotation)
	}
	if !pointsEqual(p1.Velocity, Point{X: 1, Y: -2}) {
		t.Errorf("Velocity = %v, want (1, -2)", p1.Velocity)
	}

	p2 := frame.Observations[1]
	if !p2.IsFlipped {
		t.Error("p2 should be flipped")
	}

	if len(frame.Groups) != 1 || len(frame.Groups["g1"]) != 2 {
		t.Errorf("Groups = %v, want {g1: [p1 p2]}", frame.Groups)
	}

	want := time.UnixMilli(1717243200000)
	if !frame.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", frame.Timestamp, want)
	}
	for _, o := range frame.Observations {
		if !o.Timestamp.Equal(want) {
			t.Errorf("observation %s timestamp = %v, want frame timestamp", o.ID, o.Timestamp)
		}
	}
}

func TestDecodeFrame_BareArray(t *testing.T) {
	jsonData := []byte(`[
		{"id": "a", "type": "largeTriangle1", "x": 10, "y": 20, "rotation": 1.0},
		{"id": "b", "type": "smallTriangle2", "x": 30, "y": 40, "rotation": 2.0}
	]`)

	frame, err := DecodeFrame(jsonData)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if len(frame.Observations) != 2 {
		t.Errorf("Observations count = %d, want 2", len(frame.Observations))
	}
	if frame.Groups != nil {
		t.Errorf("Groups = %v, want nil for bare array", frame.Groups)
	}
	if !frame.Timestamp.IsZero() {
		t.Errorf("Timestamp = %v, want zero for bare array", frame.Timestamp)
	}
}

func TestDecodeFrame_ZlibCompressed(t *testing.T) {
	jsonData := []byte(`{"observations": [{"id": "p1", "type": "square", "x": 1, "y": 2, "rotation": 0}]}`)

	frame, err := DecodeFrame(compressZlib(t, jsonData))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if len(frame.Observations) != 1 || frame.Observations[0].ID != "p1" {
		t.Errorf("decoded observations = %+v, want one p1", frame.Observations)
	}
}

func TestDecodeFrame_SortsByID(t *testing.T) {
	jsonData := []byte(`[
		{"id": "zeta", "type": "square", "x": 0, "y": 0, "rotation": 0},
		{"id": "alpha", "type": "smallTriangle1", "x": 0, "y": 0, "rotation": 0},
		{"id": "mid", "type": "parallelogram", "x": 0, "y": 0, "rotation": 0}
	]`)

	frame, err := DecodeFrame(jsonData)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	got := []string{frame.Observations[0].ID, frame.Observations[1].ID, frame.Observations[2].ID}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDecodeFrame_NormalizesRotation(t *testing.T) {
	jsonData := []byte(`[{"id": "p", "type": "square", "x": 0, "y": 0, "rotation": 7.5}]`)

	frame, err := DecodeFrame(jsonData)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	got := frame.Observations[0].Rotation
	if got < -math.Pi || got > math.Pi {
		t.Errorf("Rotation = %v, want normalized into (-pi, pi]", got)
	}
	if !almostEqual(got, NormalizeAngle(7.5)) {
		t.Errorf("Rotation = %v, want %v", got, NormalizeAngle(7.5))
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "missing id",
			data:    `[{"type": "square", "x": 0, "y": 0, "rotation": 0}]`,
			wantErr: "id is required",
		},
		{
			name: "duplicate id",
			data: `[{"id": "p", "type": "square", "x": 0, "y": 0, "rotation": 0},
			        {"id": "p", "type": "mediumTriangle", "x": 1, "y": 1, "rotation": 0}]`,
			wantErr: "duplicate id",
		},
		{
			name:    "unknown piece type",
			data:    `[{"id": "p", "type": "pentagon", "x": 0, "y": 0, "rotation": 0}]`,
			wantErr: "unknown piece type",
		},
		{
			name:    "coordinate overflows float64",
			data:    `[{"id": "p", "type": "square", "x": 1e999, "y": 0, "rotation": 0}]`,
			wantErr: "",
		},
		{
			name:    "malformed envelope",
			data:    `{"observations": [`,
			wantErr: "parsing",
		},
		{
			name:    "malformed array",
			data:    `[{]`,
			wantErr: "parsing observation array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.data))
			if err == nil {
				t.Fatalf("DecodeFrame(%s) should return error", tt.name)
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeFrame_EmptyData(t *testing.T) {
	_, err := DecodeFrame([]byte{})
	if err == nil {
		t.Error("DecodeFrame() with empty data should return error")
	}
}

func TestDecodeFrame_InvalidData(t *testing.T) {
	_, err := DecodeFrame([]byte{0xFF, 0xFE, 0xFD, 0xFC})
	if err == nil {
		t.Error("DecodeFrame() with invalid data should return error")
	}
	if !strings.Contains(err.Error(), "not JSON or zlib") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEncodeFrame_RoundTrip(t *testing.T) {
	original := &Frame{
		Observations: []PieceObservation{
			{
				ID:        "p1",
				Type:      PieceParallelogram,
				Position:  Point{X: 12.5, Y: -3.25},
				Rotation:  0.75,
				IsFlipped: true,
				Velocity:  Point{X: 0.5, Y: 1.5},
			},
			{
				ID:       "p2",
				Type:     PieceMediumTriangle,
				Position: Point{X: 200, Y: 100},
				Rotation: -1.5,
			},
		},
		Groups:    map[string][]string{"g1": {"p1", "p2"}},
		Timestamp: time.UnixMilli(1717243200000),
	}

	data, err := EncodeFrame(original)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	decoded, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	if len(decoded.Observations) != len(original.Observations) {
		t.Fatalf("Observations count = %d, want %d", len(decoded.Observations), len(original.Observations))
	}
	for i, o := range decoded.Observations {
		exp := original.Observations[i]
		if o.ID != exp.ID || o.Type != exp.Type || o.IsFlipped != exp.IsFlipped {
			t.Errorf("observation %d = %+v, want %+v", i, o, exp)
		}
		if !pointsEqual(o.Position, exp.Position) || !pointsEqual(o.Velocity, exp.Velocity) {
			t.Errorf("observation %d position/velocity = %v/%v, want %v/%v",
				i, o.Position, o.Velocity, exp.Position, exp.Velocity)
		}
		if !almostEqual(o.Rotation, exp.Rotation) {
			t.Errorf("observation %d rotation = %v, want %v", i, o.Rotation, exp.Rotation)
		}
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if len(decoded.Groups["g1"]) != 2 {
		t.Errorf("Groups = %v, want g1 with 2 members", decoded.Groups)
	}
}

func TestDecodeFrameFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "frame-001.json")

	content := []byte(`[{"id": "p1", "type": "square", "x": 50, "y": 60, "rotation": 0.1}]`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test frame: %v", err)
	}

	frame, err := DecodeFrameFile(path)
	if err != nil {
		t.Fatalf("DecodeFrameFile() error = %v", err)
	}
	if len(frame.Observations) != 1 || frame.Observations[0].ID != "p1" {
		t.Errorf("decoded frame = %+v, want one p1", frame.Observations)
	}
}

func TestDecodeFrameFile_Missing(t *testing.T) {
	_, err := DecodeFrameFile(filepath.Join(t.TempDir(), "no-such-frame.json"))
	if err == nil {
		t.Error("DecodeFrameFile() with missing file should return error")
	}
}

func TestInflateZlibRoundTrip(t *testing.T) {
	original := []byte(`{"observations": []}`)
	compressed := compressZlib(t, original)

	decompressed, err := inflateZlib(compressed)
	if err != nil {
		t.Fatalf("inflateZlib() error = %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Errorf("inflateZlib() = %s, want %s", decompressed, original)
	}
}

func BenchmarkDecodeFrame_Envelope(b *testing.B) {
	jsonData := []byte(`{
		"observations": [
			{"id": "p1", "type": "square", "x": 100, "y": 200, "rotation": 0.5},
			{"id": "p2", "type": "largeTriangle1", "x": 300, "y": 400, "rotation": 1.5},
			{"id": "p3", "type": "parallelogram", "x": 500, "y": 600, "rotation": -0.5, "flipped": true}
		],
		"timestampMs": 1717243200000
	}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeFrame(jsonData)
	}
}
