// Package archive manages the on-disk representation of downloaded chats.
//
// A chat record is at most two files inside the download directory:
// chat_<id>.json (the structured document, always present for a complete
// record) and chat_<id>.zip (retained only when the remote bundle carried
// attachments besides the document). Extraction uses a transient
// chat_<id>_extracted directory that never outlives a single operation on
// the write path.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/evotalks/backup-agent/internal/chat"
	"github.com/evotalks/backup-agent/internal/transcript"
)

// Record kinds.
const (
	KindJSON = "json"
	KindZip  = "zip"
)

// Record describes one stored chat in the download directory.
type Record struct {
	ChatID     int       `json:"id"`
	ModifiedAt time.Time `json:"downloadDate"`
	Path       string    `json:"path"`
	Kind       string    `json:"kind"`
}

// Attachment is a non-transcript file extracted from a chat's archive.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// View is the uniform in-memory representation of a stored chat, regardless
// of which on-disk shape it came from.
type View struct {
	Metadata   *chat.Chat     `json:"chatMetadata"`
	Messages   []chat.Message `json:"messages"`
	Files      []Attachment   `json:"files"`
	Transcript string         `json:"txtContent"`
}

// Store translates between the on-disk record shapes and Views.
type Store struct {
	formatter *transcript.Formatter
	now       func() time.Time
	logger    zerolog.Logger
}

// NewStore creates a Store.
func NewStore(formatter *transcript.Formatter, logger zerolog.Logger) *Store {
	return &Store{
		formatter: formatter,
		now:       time.Now,
		logger:    logger.With().Str("component", "archive").Logger(),
	}
}

// SetClock overrides the wall clock. Only the legacy dated-subfolder lookup
// in IsDownloaded consults it.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// matchesToken reports whether name contains the exact token chat_<id>.
// The character after the id must not be a digit, so chat_12 never matches
// chat_123.zip.
func matchesToken(name string, chatID int) bool {
	token := "chat_" + strconv.Itoa(chatID)
	for idx := 0; ; {
		i := strings.Index(name[idx:], token)
		if i < 0 {
			return false
		}
		end := idx + i + len(token)
		if end >= len(name) || name[end] < '0' || name[end] > '9' {
			return true
		}
		idx = end
	}
}

// Locate returns the full paths of all candidate files for a chat: entries
// of dir whose name carries the chat token and ends in .zip or .json.
func (s *Store) Locate(dir string, chatID int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading download dir: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".zip" && ext != ".json" {
			continue
		}
		if matchesToken(name, chatID) {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	return candidates, nil
}

// Materialize builds the uniform view of a stored chat. A .json candidate is
// parsed directly; a .zip candidate is extracted to chat_<id>_extracted
// (skipped if that directory already exists, so repeated reads are cheap)
// and its members classified. The parsed JSON supplies the transcript when
// present; a bundled .txt transcript is only used without one.
func (s *Store) Materialize(dir string, chatID int) (View, error) {
	candidates, err := s.Locate(dir, chatID)
	if err != nil {
		return View{}, err
	}

	var view View
	for _, path := range candidates {
		switch filepath.Ext(path) {
		case ".json":
			if err := s.applyDocument(&view, path); err != nil {
				return View{}, err
			}
		case ".zip":
			if err := s.materializeArchive(&view, dir, chatID, path); err != nil {
				return View{}, err
			}
		}
	}
	return view, nil
}

func (s *Store) applyDocument(view *View, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading chat document: %w", err)
	}
	var export chat.Export
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("parsing chat document %s: %w", filepath.Base(path), err)
	}
	if export.Chat == nil {
		return nil
	}
	view.Metadata = export.Chat
	view.Messages = export.Chat.Messages
	view.Transcript = s.formatter.Format(export)
	return nil
}

func (s *Store) materializeArchive(view *View, dir string, chatID int, zipPath string) error {
	extractDir := filepath.Join(dir, fmt.Sprintf("chat_%d_extracted", chatID))
	if _, err := os.Stat(extractDir); os.IsNotExist(err) {
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return fmt.Errorf("creating extraction dir: %w", err)
		}
		if err := extractZip(zipPath, extractDir); err != nil {
			return fmt.Errorf("extracting %s: %w", filepath.Base(zipPath), err)
		}
	}

	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return fmt.Errorf("reading extraction dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(extractDir, name)
		switch {
		case strings.HasSuffix(name, ".json"):
			if err := s.applyDocument(view, path); err != nil {
				return err
			}
		case strings.HasSuffix(name, ".txt"):
			if view.Transcript == "" {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading bundled transcript: %w", err)
				}
				view.Transcript = string(data)
			}
		default:
			view.Files = append(view.Files, Attachment{
				Name: name,
				Type: filepath.Ext(name),
				Path: path,
			})
		}
	}
	return nil
}

// IsDownloaded reports whether any record exists for the chat, checking both
// the flat layout and the legacy same-day dated subfolder. New records are
// only ever written flat.
func (s *Store) IsDownloaded(dir string, chatID int) bool {
	today := s.now().Format("2006-01-02")
	for _, location := range []string{filepath.Join(dir, today), dir} {
		entries, err := os.ReadDir(location)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && matchesToken(e.Name(), chatID) {
				return true
			}
		}
	}
	return false
}

// List enumerates all top-level chat records, newest first.
func (s *Store) List(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading download dir: %w", err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !strings.HasPrefix(name, "chat_") || (ext != ".zip" && ext != ".json") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "chat_"), ext))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := KindJSON
		if ext == ".zip" {
			kind = KindZip
		}
		records = append(records, Record{
			ChatID:     id,
			ModifiedAt: info.ModTime(),
			Path:       filepath.Join(dir, name),
			Kind:       kind,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ModifiedAt.After(records[j].ModifiedAt)
	})
	return records, nil
}

// LastBackupTime returns the modification time of the newest stored record.
func (s *Store) LastBackupTime(dir string) (time.Time, bool) {
	records, err := s.List(dir)
	if err != nil || len(records) == 0 {
		return time.Time{}, false
	}
	return records[0].ModifiedAt, true
}

// PersistBundle stores a downloaded backup bundle. The raw zip is written to
// disk, extracted to a transient directory, and the structured document
// copied out as chat_<id>.json. If the document was the bundle's only
// content the zip is deleted; otherwise it stays as the attachment
// container. The transient directory is removed on every exit path. On
// failure after the zip write the archive is retained un-pruned as
// best-effort salvage.
func (s *Store) PersistBundle(dir string, chatID int, raw []byte) error {
	zipPath := filepath.Join(dir, fmt.Sprintf("chat_%d.zip", chatID))
	if err := os.WriteFile(zipPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	// A stale extraction dir from an interrupted run must not pollute this one.
	extractDir := filepath.Join(dir, fmt.Sprintf("chat_%d_extracted", chatID))
	if err := os.RemoveAll(extractDir); err != nil {
		return fmt.Errorf("clearing extraction dir: %w", err)
	}
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return fmt.Errorf("creating extraction dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := extractZip(zipPath, extractDir); err != nil {
		return fmt.Errorf("extracting bundle for chat %d: %w", chatID, err)
	}

	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return fmt.Errorf("reading extraction dir: %w", err)
	}

	var docName string
	others := 0
	for _, e := range entries {
		if docName == "" && strings.HasSuffix(e.Name(), ".json") {
			docName = e.Name()
		} else {
			others++
		}
	}

	if docName == "" {
		return fmt.Errorf("bundle for chat %d has no structured document", chatID)
	}

	data, err := os.ReadFile(filepath.Join(extractDir, docName))
	if err != nil {
		return fmt.Errorf("reading bundle document: %w", err)
	}
	var export chat.Export
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("parsing bundle document for chat %d: %w", chatID, err)
	}

	jsonPath := filepath.Join(dir, fmt.Sprintf("chat_%d.json", chatID))
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("writing chat document: %w", err)
	}

	if others == 0 {
		if err := os.Remove(zipPath); err != nil {
			return fmt.Errorf("pruning archive: %w", err)
		}
	}

	s.logger.Debug().Int("chat_id", chatID).Bool("attachments", others > 0).Msg("bundle persisted")
	return nil
}

// SaveRawArchive writes a bundle as chat_<id>.zip without extraction or
// document splitting. Used by the retention sweep, where the raw archive is
// kept as proof of the data before the remote purge.
func (s *Store) SaveRawArchive(dir string, chatID int, raw []byte) error {
	zipPath := filepath.Join(dir, fmt.Sprintf("chat_%d.zip", chatID))
	if err := os.WriteFile(zipPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

// extractZip unpacks an archive into destDir, flattening any directory
// structure and rejecting traversal attempts.
func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(filepath.Clean(f.Name))
		if name == "." || name == ".." || name == string(filepath.Separator) {
			continue
		}
		dest := filepath.Join(destDir, name)

		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			rc.Close()
			return err
		}
		out.Close()
		rc.Close()
	}
	return nil
}
