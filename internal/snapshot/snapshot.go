// Package snapshot keeps a state tree in a JSON file between CLI runs and
// moves single tables in and out as JSONL.
//
// Writes go through a temp file in the target directory, are fsynced and
// then renamed over the target, so a reader sees either the old file or the
// new one.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/pantry/pkg/db"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Load reads the state snapshot at path. A missing file yields the empty
// state of d's registry.
func Load(path string, d *db.Database) (types.State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no snapshot, starting empty", "path", path)
		return d.GetEmptyState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	state, err := d.DecodeState(data)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", path, err)
	}
	return state, nil
}

// Save writes state to path atomically, creating the directory if needed.
func Save(path string, state types.State) error {
	data, err := db.EncodeState(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := writeAtomic(path, func(w *bufio.Writer) error {
		if _, err := w.Write(data); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}); err != nil {
		return err
	}
	slog.Debug("snapshot saved", "path", path, "bytes", len(data))
	return nil
}

// ExportJSONL writes the records of ts to w, one JSON object per line, in
// insertion order.
func ExportJSONL(w io.Writer, ts *types.TableState) error {
	bw := bufio.NewWriter(w)
	if ts != nil {
		for _, id := range ts.Items {
			line, err := json.Marshal(ts.Get(id))
			if err != nil {
				return fmt.Errorf("encoding record %v: %w", id, err)
			}
			if _, err := bw.Write(line); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WriteJSONL exports ts to path atomically.
func WriteJSONL(path string, ts *types.TableState) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		return ExportJSONL(w, ts)
	})
}

// ImportJSONL reads one record per line from r. Empty lines and lines that
// are not a JSON object are skipped; skipped reports how many.
func ImportJSONL(r io.Reader) (records []types.Ref, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		rec, err := types.DecodeRef(data)
		if err != nil {
			slog.Debug("skipping malformed line", "line", line, "error", err)
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scanning JSONL: %w", err)
	}
	return records, skipped, nil
}

// ReadJSONL opens path and imports it with ImportJSONL.
func ReadJSONL(path string) ([]types.Ref, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ImportJSONL(f)
}

// writeAtomic writes through fill into a temp file next to path, fsyncs it
// and renames it over path.
func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pantry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		return fail("writing temp file", err)
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
