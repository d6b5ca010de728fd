// Package universe holds the fixed symbol list the screener tracks.
package universe

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

//go:embed russell1000.txt
var russell1000 string

// Universe is an ordered, duplicate-free set of ticker symbols
type Universe struct {
	symbols []string
	index   map[string]struct{}
}

// Default returns the embedded Russell 1000 universe
func Default() *Universe {
	u, err := Parse(strings.NewReader(russell1000))
	if err != nil {
		// the embedded list is plain text; a read failure is a build defect
		panic(fmt.Sprintf("universe: embedded list: %v", err))
	}
	return u
}

// Load reads a universe from a file with one symbol per line.
// An empty path yields the embedded default.
func Load(path string) (*Universe, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads symbols one per line. Blank lines and lines starting with #
// are ignored, symbols are upper-cased, deduplicated and sorted.
func Parse(r io.Reader) (*Universe, error) {
	var symbols []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read universe: %w", err)
	}
	return New(symbols), nil
}

// New builds a universe from raw symbols
func New(symbols []string) *Universe {
	u := &Universe{index: make(map[string]struct{}, len(symbols))}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := u.index[s]; ok {
			continue
		}
		u.index[s] = struct{}{}
		u.symbols = append(u.symbols, s)
	}
	sort.Strings(u.symbols)
	return u
}

// Symbols returns a copy of the sorted symbol list
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.symbols))
	copy(out, u.symbols)
	return out
}

// Len returns the number of symbols
func (u *Universe) Len() int {
	return len(u.symbols)
}

// Contains reports whether symbol is part of the universe
func (u *Universe) Contains(symbol string) bool {
	_, ok := u.index[strings.ToUpper(symbol)]
	return ok
}

// Batches splits the sorted universe into consecutive chunks of at most size symbols
func (u *Universe) Batches(size int) [][]string {
	if size <= 0 {
		size = len(u.symbols)
	}
	var batches [][]string
	for start := 0; start < len(u.symbols); start += size {
		end := start + size
		if end > len(u.symbols) {
			end = len(u.symbols)
		}
		batch := make([]string, end-start)
		copy(batch, u.symbols[start:end])
		batches = append(batches, batch)
	}
	return batches
}
