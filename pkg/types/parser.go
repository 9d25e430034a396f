package types

import "fmt"

// ParseResult holds the messages read from one archive file
type ParseResult struct {
	Messages []*Message
	Errors   []ParseError
}

// ParseError describes a record that could not be read. Line is the JSONL
// line or the 1-based message index within an mbox file.
type ParseError struct {
	File    string
	Line    int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", pe.File, pe.Line, pe.Message)
}

// HasErrors returns true if any record failed to parse
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError records a skipped record
func (pr *ParseResult) AddError(file string, line int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Message: msg,
	})
}

// Merge appends other's messages and errors
func (pr *ParseResult) Merge(other *ParseResult) {
	if other == nil {
		return
	}
	pr.Messages = append(pr.Messages, other.Messages...)
	pr.Errors = append(pr.Errors, other.Errors...)
}
