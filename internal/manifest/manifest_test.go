package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleArtifacts() Artifacts {
	return Artifacts{
		PerSpeaker: map[string]SpeakerArtifacts{
			"1001": {
				WavPaths: []string{"raw/alice_1001_seg000.wav"},
				JSONPath: "transcripts/user_1001.json",
				SRTPath:  "transcripts/user_1001.srt",
				VTTPath:  "transcripts/user_1001.vtt",
			},
		},
		Timeline:  "transcripts/conversation.json",
		UpdatedAt: "2026-08-30T12:00:00Z",
	}
}

func TestMerge_PreservesUnrelatedFields(t *testing.T) {
	existing := map[string]any{
		"title":        "X",
		"participants": []any{"alice", "bob"},
		"transcripts":  map[string]any{},
	}

	merged := Merge(existing, sampleArtifacts())

	if merged["title"] != "X" {
		t.Errorf("expected title preserved, got %v", merged["title"])
	}
	if !reflect.DeepEqual(merged["participants"], []any{"alice", "bob"}) {
		t.Errorf("expected participants preserved, got %v", merged["participants"])
	}

	section, ok := merged[ReservedKey].(map[string]any)
	if !ok {
		t.Fatalf("expected transcripts section, got %T", merged[ReservedKey])
	}
	if section["timeline"] != "transcripts/conversation.json" {
		t.Errorf("unexpected timeline path: %v", section["timeline"])
	}
}

func TestMerge_Idempotent(t *testing.T) {
	existing := map[string]any{"title": "X"}
	arts := sampleArtifacts()

	once := Merge(existing, arts)
	twice := Merge(once, arts)

	a, _ := json.Marshal(once)
	b, _ := json.Marshal(twice)
	if string(a) != string(b) {
		t.Errorf("merge not idempotent:\nonce:  %s\ntwice: %s", a, b)
	}
}

func TestMerge_ReplacesRegeneratedKeepsOthers(t *testing.T) {
	existing := map[string]any{
		ReservedKey: map[string]any{
			"perSpeaker": map[string]any{
				"1001": map[string]any{"jsonPath": "transcripts/old_1001.json"},
				"2002": map[string]any{"jsonPath": "transcripts/user_2002.json"},
			},
		},
	}

	merged := Merge(existing, sampleArtifacts())
	per := merged[ReservedKey].(map[string]any)["perSpeaker"].(map[string]any)

	regenerated := per["1001"].(map[string]any)
	if regenerated["jsonPath"] != "transcripts/user_1001.json" {
		t.Errorf("expected regenerated entry replaced, got %v", regenerated["jsonPath"])
	}
	untouched, ok := per["2002"].(map[string]any)
	if !ok || untouched["jsonPath"] != "transcripts/user_2002.json" {
		t.Errorf("expected prior speaker entry preserved, got %v", per["2002"])
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	existing := map[string]any{"title": "X"}
	Merge(existing, sampleArtifacts())
	if _, ok := existing[ReservedKey]; ok {
		t.Error("merge must not mutate its input document")
	}
}

func TestLoad_AbsentFileIsEmptyShell(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc) != 0 {
		t.Errorf("expected empty shell, got %v", doc)
	}
}

func TestLoad_CorruptManifestFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	os.WriteFile(path, []byte("{truncated"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("expected error for corrupt manifest")
	}
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	if err := WriteAtomic(path, map[string]any{"title": "X"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["title"] != "X" {
		t.Errorf("expected round-tripped title, got %v", doc["title"])
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "manifest.json" {
			t.Errorf("unexpected leftover file %s", e.Name())
		}
	}
}

func TestSync_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	os.WriteFile(path, []byte(`{"title":"X","startISO":"2026-08-30T10:00:00Z"}`), 0o644)

	arts := sampleArtifacts()
	merged, err := Sync(path, arts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["title"] != "X" {
		t.Errorf("expected title preserved, got %v", merged["title"])
	}

	// Syncing again must not change the document on disk.
	before, _ := os.ReadFile(path)
	if _, err := Sync(path, arts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("expected second sync to be a no-op")
	}
}
