package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evotalks/backup-agent/internal/transcript"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}

func newTestStore() *Store {
	s := NewStore(&transcript.Formatter{Now: fixedClock}, zerolog.Nop())
	s.SetClock(fixedClock)
	return s
}

// buildZip assembles an in-memory zip from name → content pairs.
func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const sampleDocument = `{
	"chat": {
		"clientName": "Maria Silva",
		"clientNumber": "+55 11 99999-0000",
		"beginTime": "2025-03-09T14:00:00Z",
		"messages": [
			{"direction": "in", "text": "Olá", "timestamp": "2025-03-09T14:00:05Z"},
			{"direction": "out", "text": "Bom dia", "timestamp": "2025-03-09T14:00:30Z"}
		]
	}
}`

func TestMatchesTokenExact(t *testing.T) {
	cases := []struct {
		name   string
		chatID int
		want   bool
	}{
		{"chat_12.json", 12, true},
		{"chat_12.zip", 12, true},
		{"chat_12_extracted", 12, true},
		{"chat_123.json", 12, false},
		{"chat_1.json", 12, false},
		{"chat_120.zip", 12, false},
		{"notes.txt", 12, false},
	}
	for _, tc := range cases {
		if got := matchesToken(tc.name, tc.chatID); got != tc.want {
			t.Errorf("matchesToken(%q, %d) = %v, want %v", tc.name, tc.chatID, got, tc.want)
		}
	}
}

func TestLocateExactToken(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"chat_12.json", "chat_123.zip", "chat_1.json", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := newTestStore()
	got, err := s.Locate(dir, 12)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "chat_12.json" {
		t.Errorf("expected only chat_12.json, got %v", got)
	}
}

func TestPersistBundleJSONOnlyPrunesArchive(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	raw := buildZip(t, map[string]string{"chat_7.json": sampleDocument})
	if err := s.PersistBundle(dir, 7, raw); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "chat_7.json")); err != nil {
		t.Error("expected chat_7.json to exist")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_7.zip")); !os.IsNotExist(err) {
		t.Error("expected chat_7.zip to be pruned when the document is the only member")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_7_extracted")); !os.IsNotExist(err) {
		t.Error("expected transient extraction dir to be removed")
	}
}

func TestPersistBundleWithAttachmentsKeepsBoth(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	raw := buildZip(t, map[string]string{
		"chat_8.json":     sampleDocument,
		"comprovante.pdf": "%PDF-1.4 fake",
	})
	if err := s.PersistBundle(dir, 8, raw); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "chat_8.json")); err != nil {
		t.Error("expected chat_8.json to exist")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_8.zip")); err != nil {
		t.Error("expected chat_8.zip to be retained as the attachment container")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_8_extracted")); !os.IsNotExist(err) {
		t.Error("expected transient extraction dir to be removed")
	}
}

func TestPersistBundleCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	raw := buildZip(t, map[string]string{"chat_9.json": "{broken"})
	if err := s.PersistBundle(dir, 9, raw); err == nil {
		t.Fatal("expected error for unparseable document")
	}

	// The archive stays as best-effort salvage, the transient dir must not
	// leak, and no half-written document may appear.
	if _, err := os.Stat(filepath.Join(dir, "chat_9.zip")); err != nil {
		t.Error("expected archive to be retained on parse failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_9_extracted")); !os.IsNotExist(err) {
		t.Error("expected transient extraction dir to be removed on failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_9.json")); !os.IsNotExist(err) {
		t.Error("expected no document for a failed persist")
	}
}

func TestPersistBundleCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	if err := s.PersistBundle(dir, 10, []byte("not a zip at all")); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	if _, err := os.Stat(filepath.Join(dir, "chat_10_extracted")); !os.IsNotExist(err) {
		t.Error("expected transient extraction dir to be removed on failure")
	}
}

func TestPersistBundleWithoutDocument(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	raw := buildZip(t, map[string]string{"foto.png": "PNG"})
	if err := s.PersistBundle(dir, 11, raw); err == nil {
		t.Fatal("expected error for bundle without a structured document")
	}
}

func TestIsDownloaded(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	if s.IsDownloaded(dir, 42) {
		t.Error("expected false before any backup")
	}

	raw := buildZip(t, map[string]string{"chat_42.json": sampleDocument})
	if err := s.PersistBundle(dir, 42, raw); err != nil {
		t.Fatal(err)
	}

	if !s.IsDownloaded(dir, 42) {
		t.Error("expected true immediately after persist")
	}
	if s.IsDownloaded(dir, 4) {
		t.Error("chat_4 must not match chat_42")
	}
}

func TestIsDownloadedLegacyDatedSubfolder(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	// Records written by older versions live in a per-day subfolder.
	dated := filepath.Join(dir, fixedClock().Format("2006-01-02"))
	if err := os.MkdirAll(dated, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dated, "chat_99.zip"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !s.IsDownloaded(dir, 99) {
		t.Error("expected legacy dated layout to be found")
	}
}

func TestListSortedByModTime(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	older := filepath.Join(dir, "chat_1.json")
	newer := filepath.Join(dir, "chat_2.zip")
	if err := os.WriteFile(older, []byte(sampleDocument), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, base, base); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ChatID != 2 || records[0].Kind != KindZip {
		t.Errorf("expected newest record first, got %+v", records[0])
	}
	if records[1].ChatID != 1 || records[1].Kind != KindJSON {
		t.Errorf("expected older record second, got %+v", records[1])
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	for _, name := range []string{"chat_abc.json", "notes.txt", "chat_.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "chat_5_extracted"), 0o755); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %v", records)
	}
}

func TestMaterializeFromDocument(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	if err := os.WriteFile(filepath.Join(dir, "chat_3.json"), []byte(sampleDocument), 0o644); err != nil {
		t.Fatal(err)
	}

	view, err := s.Materialize(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if view.Metadata == nil || view.Metadata.ClientName != "Maria Silva" {
		t.Errorf("metadata not populated: %+v", view.Metadata)
	}
	if len(view.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(view.Messages))
	}
	if !strings.Contains(view.Transcript, "[>][Cliente] - Olá") {
		t.Errorf("transcript not rendered from document:\n%s", view.Transcript)
	}
}

func TestMaterializeFromArchiveWithAttachments(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	raw := buildZip(t, map[string]string{
		"chat_4.json": sampleDocument,
		"recibo.pdf":  "%PDF",
	})
	if err := s.PersistBundle(dir, 4, raw); err != nil {
		t.Fatal(err)
	}

	view, err := s.Materialize(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if view.Metadata == nil {
		t.Fatal("expected metadata from bundled document")
	}
	if len(view.Files) != 1 || view.Files[0].Name != "recibo.pdf" {
		t.Errorf("expected one attachment, got %+v", view.Files)
	}

	// Re-reading must reuse the existing extraction dir.
	again, err := s.Materialize(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Files) != 1 {
		t.Errorf("expected idempotent re-read, got %+v", again.Files)
	}
}

func TestMaterializePrefersDocumentTranscript(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	raw := buildZip(t, map[string]string{
		"chat_6.json":    sampleDocument,
		"transcript.txt": "texto antigo do transcript",
		"anexo.bin":      "data",
	})
	if err := s.SaveRawArchive(dir, 6, raw); err != nil {
		t.Fatal(err)
	}

	view, err := s.Materialize(dir, 6)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(view.Transcript, "texto antigo") {
		t.Error("document transcript must take precedence over bundled .txt")
	}
	if !strings.Contains(view.Transcript, "Maria Silva") {
		t.Errorf("expected rendered transcript, got:\n%s", view.Transcript)
	}
}
