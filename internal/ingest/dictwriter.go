// Package ingest turns parsed quad streams into a populated store: interim
// dictionary and triple files on disk, a bulk load into the columnar tables,
// and the optional per-subject FTS and vector indices.
package ingest

import (
	"bufio"
	"fmt"
	"os"

	"github.com/standardbeagle/bikidata/internal/debug"
	"github.com/standardbeagle/bikidata/internal/hash"
	"github.com/standardbeagle/bikidata/internal/rdf"
)

// mapDelim separates hash and value in the maps file. Term values may contain
// tabs or pipes on their own, but never this three-byte sequence.
const mapDelim = "\t|\t"

// DictWriter streams quads into the two interim files the bulk loader reads:
// a hash-only triple file and a hash-to-surface-form maps file. Graph terms
// are deduplicated in memory and appended when the writer closes.
type DictWriter struct {
	triplePath string
	mapPath    string
	tf, mf     *os.File
	tw, mw     *bufio.Writer
	graphs     map[string]struct{}
	count      int
}

// NewDictWriter creates (truncating) both interim files.
func NewDictWriter(triplePath, mapPath string) (*DictWriter, error) {
	tf, err := os.Create(triplePath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", triplePath, err)
	}
	mf, err := os.Create(mapPath)
	if err != nil {
		tf.Close()
		return nil, fmt.Errorf("create %s: %w", mapPath, err)
	}
	return &DictWriter{
		triplePath: triplePath,
		mapPath:    mapPath,
		tf:         tf,
		mf:         mf,
		tw:         bufio.NewWriterSize(tf, 1<<20),
		mw:         bufio.NewWriterSize(mf, 1<<20),
		graphs:     map[string]struct{}{},
	}, nil
}

// Add hashes one quad and writes its triple and map lines. Quads containing a
// term that is not valid UTF-8 are reported and skipped; the stream continues.
func (w *DictWriter) Add(q rdf.Quad) error {
	if !hash.Valid(q.S) || !hash.Valid(q.P) || !hash.Valid(q.O) || !hash.Valid(q.G) {
		debug.Errorf("skipping quad with non-UTF-8 term, subject %q\n", q.S)
		return nil
	}
	ss, pp, oo, gg := hash.Hex(q.S), hash.Hex(q.P), hash.Hex(q.O), hash.Hex(q.G)
	w.graphs[q.G] = struct{}{}
	if _, err := fmt.Fprintf(w.tw, "%s\t%s\t%s\t%s\n", ss, pp, oo, gg); err != nil {
		return fmt.Errorf("write triple line: %w", err)
	}
	for _, pair := range [][2]string{{ss, q.S}, {pp, q.P}, {oo, q.O}} {
		if _, err := fmt.Fprintf(w.mw, "%s%s%s\n", pair[0], mapDelim, pair[1]); err != nil {
			return fmt.Errorf("write map line: %w", err)
		}
	}
	w.count++
	return nil
}

// Count returns the number of quads written so far.
func (w *DictWriter) Count() int { return w.count }

// Close appends one map line per distinct graph term, flushes and closes both
// files. The files stay on disk for the loader; Remove deletes them.
func (w *DictWriter) Close() error {
	for g := range w.graphs {
		if g == "" {
			// the zero hash is reserved; resolution maps it to "" directly
			continue
		}
		if _, err := fmt.Fprintf(w.mw, "%s%s%s\n", hash.Hex(g), mapDelim, g); err != nil {
			return fmt.Errorf("write graph line: %w", err)
		}
	}
	if err := w.tw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.triplePath, err)
	}
	if err := w.mw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.mapPath, err)
	}
	if err := w.tf.Close(); err != nil {
		return err
	}
	return w.mf.Close()
}

// Remove deletes both interim files. Called after a committed load; on load
// failure the files are left behind for diagnostics.
func (w *DictWriter) Remove() error {
	if err := os.Remove(w.triplePath); err != nil {
		return err
	}
	return os.Remove(w.mapPath)
}
