package rdf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/standardbeagle/bikidata/internal/debug"
)

// Quad is one asserted statement. All four positions are surface strings;
// G is "" outside any named graph.
type Quad struct {
	S, P, O, G string
}

// maxLineSize bounds a single input line. Wikidata literal dumps carry
// multi-megabyte JSON blobs in single literals, so this is deliberately large.
const maxLineSize = 8 * 1024 * 1024

// EmitFunc receives each parsed quad. A non-nil return aborts the stream.
type EmitFunc func(Quad) error

// ParseFile streams one N-Triples or TriG file through emit. Files ending in
// .gz are transparently decompressed.
func ParseFile(path string, emit EmitFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	return Parse(r, emit)
}

// ParseFiles streams every path in order. The graph context resets between
// files; a malformed file aborts the sequence, a malformed line never does.
func ParseFiles(paths []string, emit EmitFunc) error {
	for _, path := range paths {
		if err := ParseFile(path, emit); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads line-delimited N-Triples with the TriG graph-header extension
// from r and calls emit for each statement.
//
// Per-line rules, in order:
//   - "<iri> {"  (exactly two fields)  sets the current graph context
//   - lines not ending in " ."         are skipped
//   - otherwise the line is unicode-escape decoded, split on single spaces,
//     and emitted when subject and predicate are IRI-shaped
//
// Decode failures are skipped with a warning; short lines and lines whose
// subject or predicate is not an IRI are skipped silently. The stream is
// never aborted by bad input.
func Parse(r io.Reader, emit EmitFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	g := ""
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		if !strings.HasSuffix(line, " .") {
			if strings.HasSuffix(line, " {") && strings.HasPrefix(line, "<") {
				if parts := strings.Split(line, " "); len(parts) == 2 {
					g = parts[0]
				}
			}
			continue
		}

		line, err := decodeUnicodeEscapes(strings.TrimSuffix(strings.TrimSpace(line), " ."))
		if err != nil {
			debug.Errorf("line %d: %v, skipping\n", lineno, err)
			continue
		}

		parts := strings.Split(line, " ")
		if len(parts) < 3 {
			continue
		}
		s := parts[0]
		p := parts[1]
		o := strings.Join(parts[2:], " ")

		if !IsIRI(s) || !IsIRI(p) {
			continue
		}

		if err := emit(Quad{S: s, P: p, O: o, G: g}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", lineno, err)
	}
	return nil
}
