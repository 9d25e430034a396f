package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

// maxJSONLLine bounds a single record; message bodies can be long
const maxJSONLLine = 16 * 1024 * 1024

// record is one line of the crawler's JSONL output
type record struct {
	MessageID             string   `json:"message_id"`
	InReplyTo             *string  `json:"in_reply_to"`
	References            []string `json:"references"`
	Subject               string   `json:"subject"`
	AuthorName            string   `json:"author_name"`
	AuthorEmailObfuscated string   `json:"author_email_obfuscated"`
	Date                  string   `json:"date"`
	BodyRaw               string   `json:"body_raw"`
	BodyClean             string   `json:"body_clean"`
	BodyNewContent        string   `json:"body_new_content"`
	SourceURL             string   `json:"source_url"`
	MonthPeriod           string   `json:"month_period"`
	ThreadRootID          *string  `json:"thread_root_id"`
	ThreadDepth           int      `json:"thread_depth"`
}

var recordDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseJSONL reads crawler records, one JSON object per line
func (p *Parser) parseJSONL(name string, r io.Reader) (*types.ParseResult, error) {
	result := &types.ParseResult{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			result.AddError(name, line, fmt.Sprintf("invalid JSON: %v", err))
			continue
		}
		msg, err := p.fromRecord(&rec)
		if err != nil {
			result.AddError(name, line, err.Error())
			continue
		}
		result.Messages = append(result.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return result, nil
}

func (p *Parser) fromRecord(rec *record) (*types.Message, error) {
	id := strings.TrimSpace(rec.MessageID)
	if id == "" {
		return nil, fmt.Errorf("missing message_id")
	}
	sentAt, err := parseRecordDate(rec.Date)
	if err != nil {
		return nil, err
	}

	msg := &types.Message{
		ID:             id,
		References:     rec.References,
		Subject:        NormalizeSubject(rec.Subject),
		AuthorName:     strings.TrimSpace(rec.AuthorName),
		AuthorEmail:    rec.AuthorEmailObfuscated,
		SentAt:         sentAt,
		BodyClean:      rec.BodyClean,
		BodyNewContent: rec.BodyNewContent,
		SourceURL:      rec.SourceURL,
		MonthPeriod:    rec.MonthPeriod,
		ThreadDepth:    rec.ThreadDepth,
	}
	if rec.InReplyTo != nil {
		msg.ParentID = strings.TrimSpace(*rec.InReplyTo)
	}
	if rec.ThreadRootID != nil {
		msg.ThreadRootID = strings.TrimSpace(*rec.ThreadRootID)
	}
	if msg.References == nil {
		msg.References = []string{}
	}

	// Older crawls only carry the raw body
	if msg.BodyClean == "" && rec.BodyRaw != "" {
		msg.BodyClean = StripQuotedLines(rec.BodyRaw)
	}
	if msg.BodyNewContent == "" && rec.BodyRaw != "" {
		msg.BodyNewContent = ExtractNewContent(rec.BodyRaw)
	}
	if msg.Subject == "" {
		msg.Subject = DefaultSubject
	}
	return msg, nil
}

func parseRecordDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range recordDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
