package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// DefaultArchiveURL is the Pipermail root used to build source URLs for mbox messages
	DefaultArchiveURL = "https://lists.isocpp.org/std-proposals"
	// DefaultSubject replaces a missing subject
	DefaultSubject = "No Subject"
	// UnknownAuthor replaces a missing From header
	UnknownAuthor = "Unknown"
)

// Parser reads archive exports into messages
type Parser struct {
	archiveURL string
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{archiveURL: DefaultArchiveURL}
}

// WithArchiveURL sets the base URL for mbox source links
func (p *Parser) WithArchiveURL(url string) *Parser {
	p.archiveURL = strings.TrimRight(url, "/")
	return p
}

// ParseFile parses a .jsonl or .mbox file. Bad records are reported in
// the result's Errors and skipped; the returned error is for I/O failures.
func (p *Parser) ParseFile(path string) (*types.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return p.Parse(path, f)
}

// Parse reads r in the format implied by name's extension
func (p *Parser) Parse(name string, r io.Reader) (*types.ParseResult, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson":
		return p.parseJSONL(name, r)
	case ".mbox":
		return p.parseMbox(name, r)
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", name)
	}
}

// ParseDir parses every .jsonl and .mbox file directly inside dir, in name order
func (p *Parser) ParseDir(dir string) (*types.ParseResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsArchiveFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	result := &types.ParseResult{}
	for _, name := range names {
		fileResult, err := p.ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		result.Merge(fileResult)
	}
	return result, nil
}

// ParsePath parses a file or a directory of archive files, then reconstructs threads
func (p *Parser) ParsePath(path string) (*types.ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var result *types.ParseResult
	if info.IsDir() {
		result, err = p.ParseDir(path)
	} else {
		result, err = p.ParseFile(path)
	}
	if err != nil {
		return nil, err
	}

	result.Messages = dedupMessages(result.Messages)
	ReconstructThreads(result.Messages)
	return result, nil
}

// IsArchiveFile reports whether name has a supported extension
func IsArchiveFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson", ".mbox":
		return true
	}
	return false
}

func (p *Parser) sourceURL(period string) string {
	if p.archiveURL == "" || period == "" {
		return ""
	}
	return p.archiveURL + "/" + period + "/"
}

// dedupMessages keeps the last occurrence of each ID at its first position
func dedupMessages(messages []*types.Message) []*types.Message {
	index := make(map[string]int, len(messages))
	out := make([]*types.Message, 0, len(messages))
	for _, m := range messages {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}
