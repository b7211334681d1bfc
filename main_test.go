package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rowlytics/capture-pipeline/pose"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	testChdir(t, t.TempDir())
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeLandmarks(t *testing.T, v any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "landmarks.json")
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFeaturesCommandPrintsCSV(t *testing.T) {
	pts := make([]pose.Landmark, pose.NumLandmarks)
	for i := range pts {
		pts[i] = pose.Point(0.5, 0.5, 0.9)
	}
	pts[pose.LeftWrist] = pose.Point(0.5, 0.5, 0.1)
	path := writeLandmarks(t, map[string]any{"landmarks": [][]pose.Landmark{pts}})

	out, err := execute(t, "features", path, "--display", "1280x720")
	if err != nil {
		t.Fatalf("features failed: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("output is not csv: %v\n%s", err, out)
	}
	values := map[string]string{}
	for _, r := range rows[1:] {
		values[r[0]] = r[1]
	}
	if values["fully_framed"] != "true" {
		t.Fatalf("expected framed, got %q", values["fully_framed"])
	}
	// 640x480 in 1280x720: scale 1.5, offset 160.
	if values["landmark_0"] != "640.0,360.0" {
		t.Fatalf("landmark_0 = %q", values["landmark_0"])
	}
	if values["landmark_15"] != "N/A" {
		t.Fatalf("low visibility wrist = %q", values["landmark_15"])
	}
}

func TestFeaturesCommandRejectsBadInput(t *testing.T) {
	path := writeLandmarks(t, []pose.Landmark{pose.Point(0, 0, 1)})
	if _, err := execute(t, "features", path); err == nil {
		t.Fatal("expected error for short landmark array")
	}
	full := make([]pose.Landmark, pose.NumLandmarks)
	path = writeLandmarks(t, full)
	if _, err := execute(t, "features", path, "--display", "wide"); err == nil {
		t.Fatal("expected error for bad display size")
	}
}

func TestConfigCommandDumpsYAML(t *testing.T) {
	t.Setenv("ROWLYTICS_GATING_COOLDOWN_MS", "4200")
	out, err := execute(t, "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out, "cooldown_ms: 4200") || !strings.Contains(out, "mode: http") {
		t.Fatalf("unexpected config output:\n%s", out)
	}
}

func TestParseSize(t *testing.T) {
	w, h, err := parseSize("1920x1080")
	if err != nil || w != 1920 || h != 1080 {
		t.Fatalf("parseSize = %d, %d, %v", w, h, err)
	}
	if _, _, err := parseSize("0x10"); err == nil {
		t.Fatal("expected error for zero width")
	}
}
