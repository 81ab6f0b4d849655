// Package transcript persists deliberation runs as a directory of JSON
// files, one per stage, written atomically so a crash mid-run never leaves
// a torn file behind.
package transcript

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stage file names within a run directory.
const (
	FileRequest = "request.json"
	FileStage1  = "stage1.json"
	FileStage2  = "stage2.json"
	FileStage3  = "stage3.json"
	FileResult  = "result.json"
)

// Writer creates run directories under a fixed root.
type Writer struct {
	root string
}

// NewWriter returns a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript root: %w", err)
	}
	return &Writer{root: dir}, nil
}

// Root returns the transcript root directory.
func (w *Writer) Root() string { return w.root }

// Begin creates the run directory for one deliberation. The name is the
// start timestamp plus the request's short id; on collision a counter is
// appended. An empty shortID falls back to random hex.
func (w *Writer) Begin(startedAt time.Time, shortID string) (*Run, error) {
	stamp := startedAt.UTC().Format("2006-01-02T15-04-05")
	if shortID == "" {
		var err error
		shortID, err = randomSuffix()
		if err != nil {
			return nil, fmt.Errorf("transcript suffix: %w", err)
		}
	}

	base := fmt.Sprintf("%s-%s", stamp, shortID)
	name := base
	for i := 1; ; i++ {
		dir := filepath.Join(w.root, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return &Run{dir: dir}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func randomSuffix() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Run is one deliberation's transcript directory.
type Run struct {
	dir string
}

// Dir returns the run directory path.
func (r *Run) Dir() string { return r.dir }

// Write persists v as one of the stage files, atomically: marshal, write
// to a temp file in the same directory, fsync, rename. Keys are emitted in
// sorted order so transcripts diff cleanly across runs.
func (r *Run) Write(name string, v any) error {
	data, err := marshalSorted(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(r.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(r.dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// marshalSorted round-trips v through a generic value so encoding/json
// emits object keys sorted, regardless of struct field order.
func marshalSorted(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Read loads one stage file from a run directory into v.
func Read(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
