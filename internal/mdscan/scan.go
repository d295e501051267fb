// Package mdscan extracts exact-match fingerprints from markdown content:
// heading hashes and content-line hashes, skipping fenced code blocks and
// YAML front matter, under a bounded head-window + tail-window keep-list
// (spec.md §4.4, invariant 4). Adapted from the teacher's
// pkg/mddb/frontmatter zero-copy, line-oriented parser style (functional
// options, byte-slice scanning without intermediate allocation).
package mdscan

import (
	"bytes"
	"strings"
)

const (
	// defaultHeadWindow is how many leading unique fingerprints are kept
	// verbatim.
	defaultHeadWindow = 64
	// defaultTailWindow is how many trailing unique fingerprints are kept,
	// even if the head window already filled up.
	defaultTailWindow = 64
)

// Options configures Scan.
type Options struct {
	HeadWindow int
	TailWindow int
}

// Option mutates Options.
type Option func(*Options)

// WithHeadWindow overrides the leading unique-fingerprint keep count.
func WithHeadWindow(n int) Option {
	return func(o *Options) { o.HeadWindow = n }
}

// WithTailWindow overrides the trailing unique-fingerprint keep count.
func WithTailWindow(n int) Option {
	return func(o *Options) { o.TailWindow = n }
}

func defaultOptions() Options {
	return Options{HeadWindow: defaultHeadWindow, TailWindow: defaultTailWindow}
}

// Result holds the exact-match fingerprints extracted from one document.
type Result struct {
	// HeadingHashes are stable 64-bit hashes of lowercased heading text
	// (lines starting with 1-6 '#' characters), outside fenced code blocks
	// and front matter, sorted ascending.
	HeadingHashes []uint64
	// ContentLineHashes are stable 64-bit hashes of lowercased non-blank
	// content lines (excluding headings), under the same skip rules, sorted
	// ascending.
	ContentLineHashes []uint64
}

// Scan extracts heading and content-line fingerprints from src.
func Scan(src []byte, opts ...Option) Result {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	body := skipFrontMatter(src)

	headings := newKeepList(options.HeadWindow, options.TailWindow)
	contentLines := newKeepList(options.HeadWindow, options.TailWindow)

	inFence := false
	var fenceMarker string

	for _, line := range splitLines(body) {
		trimmed := bytes.TrimRight(line, "\r")
		trimmedLeading := bytes.TrimLeft(trimmed, " \t")

		if marker, ok := fenceDelimiter(trimmedLeading); ok {
			if !inFence {
				inFence = true
				fenceMarker = marker
			} else if marker == fenceMarker {
				inFence = false
			}

			continue
		}

		if inFence {
			continue
		}

		if len(bytes.TrimSpace(trimmed)) == 0 {
			continue
		}

		if level, text, ok := headingText(trimmedLeading); ok {
			_ = level
			headings.add(hashLower(text))

			continue
		}

		contentLines.add(hashLower(bytes.TrimSpace(trimmed)))
	}

	return Result{
		HeadingHashes:     headings.sortedUnique(),
		ContentLineHashes: contentLines.sortedUnique(),
	}
}

// fenceDelimiter reports whether line opens or closes a fenced code block
// (``` or ~~~), returning the exact marker run so open/close matching
// requires the same fence character.
func fenceDelimiter(line []byte) (string, bool) {
	if len(line) < 3 {
		return "", false
	}

	c := line[0]
	if c != '`' && c != '~' {
		return "", false
	}

	n := 0
	for n < len(line) && line[n] == c {
		n++
	}

	if n < 3 {
		return "", false
	}

	return string(line[:n]), true
}

// headingText reports whether line is a markdown ATX heading (1-6 '#'
// followed by a space), returning its level and trimmed text.
func headingText(line []byte) (int, []byte, bool) {
	n := 0
	for n < len(line) && n < 6 && line[n] == '#' {
		n++
	}

	if n == 0 || n >= len(line) || line[n] != ' ' {
		return 0, nil, false
	}

	text := bytes.TrimSpace(line[n+1:])
	if len(text) == 0 {
		return 0, nil, false
	}

	return n, text, true
}

// skipFrontMatter returns the body after a leading "---\n...\n---\n" YAML
// front matter block, or src unchanged if none is present.
func skipFrontMatter(src []byte) []byte {
	trimmed := bytes.TrimLeft(src, "\xef\xbb\xbf")

	if !bytes.HasPrefix(trimmed, []byte("---")) {
		return src
	}

	rest := trimmed[3:]
	if len(rest) == 0 || (rest[0] != '\n' && rest[0] != '\r') {
		return src
	}

	idx := bytes.Index(rest, []byte("\n---"))
	if idx < 0 {
		return src
	}

	after := rest[idx+len("\n---"):]

	lineEnd := bytes.IndexByte(after, '\n')
	if lineEnd < 0 {
		return nil
	}

	return after[lineEnd+1:]
}

func splitLines(b []byte) [][]byte {
	if len(b) == 0 {
		return nil
	}

	return bytes.Split(b, []byte("\n"))
}

// hashLower computes the stable 64-bit FNV-1a hash of the lowercased text,
// without allocating an intermediate lowercased copy when the input is
// already all-lowercase ASCII.
func hashLower(b []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	var h uint64 = offset64

	for _, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}

		h ^= uint64(c)
		h *= prime64
	}

	return h
}

// hashLowerString is the string-input sibling of hashLower, used for exact
// keys computed from already-decoded strings (name, basename, stem).
func hashLowerString(s string) uint64 {
	return hashLower([]byte(strings.ToLower(s)))
}

// HashLowerString exposes the stable 64-bit lowercase hash for callers
// outside this package that need to compute a query's raw_lower_hash
// (spec.md §4.4 ExactQueryKeys).
func HashLowerString(s string) uint64 {
	return hashLowerString(s)
}
