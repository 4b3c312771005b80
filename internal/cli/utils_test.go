package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/basho/internal/models"
	"github.com/hyperjump/basho/internal/pipeline"
	"github.com/hyperjump/basho/internal/search"
)

func sampleResult() *models.SearchResult {
	return &models.SearchResult{
		Metadata: models.SceneMetadata{
			SceneID: "gate", Title: "Red gate", Description: "A torii", Latitude: 35.0116, Longitude: 135.7681,
		},
		Distance: 0.3125,
	}
}

func TestWriteSearchResult_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResult(&buf, sampleResult(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Scene: gate", "Title: Red gate", "35.011600, 135.768100", "Distance: 0.3125"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResult_NoMatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResult(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No matching scene") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	if err := WriteSearchResult(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if string(decoded["result"]) != "null" {
		t.Errorf("result = %s", decoded["result"])
	}
}

func TestWriteSearchResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResult(&buf, sampleResult(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Result models.SearchResult `json:"result"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Result.Metadata.SceneID != "gate" || decoded.Result.Distance != 0.3125 {
		t.Errorf("decoded = %+v", decoded.Result)
	}
}

func TestWriteLocations(t *testing.T) {
	records := []models.LocationRecord{
		models.NewLocationRecord(sampleResult(), 0),
		{SceneID: "harbour", Latitude: 34.5, Longitude: 135.5, Distance: 0.5, FrameIndex: 90},
	}
	var buf bytes.Buffer
	if err := WriteLocations(&buf, records, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Found 2 locations") || !strings.Contains(out, "harbour") {
		t.Errorf("unexpected output:\n%s", out)
	}

	buf.Reset()
	if err := WriteLocations(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"results": []`) {
		t.Errorf("empty results should encode as []: %s", buf.String())
	}
}

func TestWriteBuildStatsAndStatus(t *testing.T) {
	var buf bytes.Buffer
	stats := &pipeline.BuildStats{Entries: 10, Indexed: 9, Skipped: 1, Scenes: 3, Duration: 1500 * time.Millisecond}
	if err := WriteBuildStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Indexed 9 of 10 images (1 skipped) across 3 scenes in 1.5s") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	if err := WriteStatus(&buf, search.Status{Descriptors: 9, IndexType: "memory"}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Descriptors:  9") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "JSON": OutputJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hi", 5); got != "hi" {
		t.Errorf("Truncate = %q", got)
	}
}
