package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aluiziolira/kb-backup/models"
)

func sampleRecords() []*models.ExportRecord {
	return []*models.ExportRecord{
		{
			ID:            1,
			OriginalTitle: "Setup Guide",
			Category:      "General",
			Section:       "Getting Started",
			UpdatedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			Directory:     "/tmp/KB_Backup/General/Getting Started/Published/Setup Guide",
		},
		{
			ID:            2,
			OriginalTitle: "Videos, \"quoted\"",
			Category:      "General",
			Section:       "Media",
			Videos:        "https://www.youtube.com/embed/abc|https://vimeo.com/123",
			VideoCount:    2,
		},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manifest.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := [][]string{
		{"ID", "Original_Title", "Category", "Section", "Videos", "Video_Count", "Updated_Date"},
		{"1", "Setup Guide", "General", "Getting Started", "", "0", "2024-03-01T10:00:00Z"},
		{"2", "Videos, \"quoted\"", "General", "Media", "https://www.youtube.com/embed/abc|https://vimeo.com/123", "2", ""},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var decoded []models.ExportRecord
	for scanner.Scan() {
		var r models.ExportRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, r)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json lines=%d, want 2", len(decoded))
	}
	if decoded[0].Directory == "" || decoded[1].VideoCount != 2 {
		t.Fatalf("unexpected decoded rows: %+v", decoded)
	}
}

func TestEmptyManifestFailsValidation(t *testing.T) {
	writer, err := NewJSONWriter(filepath.Join(t.TempDir(), "manifest.jsonl"))
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Validate(); err == nil {
		t.Fatalf("expected empty manifest to fail validation")
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "manifest.csv")
	jsonPath := CompanionPath(csvPath)
	if jsonPath != filepath.Join(dir, "manifest.jsonl") {
		t.Fatalf("companion path = %q", jsonPath)
	}

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}
