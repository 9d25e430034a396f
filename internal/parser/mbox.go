package parser

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

// maxMboxLine bounds one line of an mbox file
const maxMboxLine = 1024 * 1024

var periodFromName = regexp.MustCompile(`(\d{4})[-_](\d{2})`)

var headerDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// parseMbox splits an mbox stream on "From " separator lines and parses each message
func (p *Parser) parseMbox(name string, r io.Reader) (*types.ParseResult, error) {
	result := &types.ParseResult{}
	period := MonthPeriodFromFilename(name)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMboxLine)

	var current bytes.Buffer
	index := 0
	started := false
	prevBlank := true

	flush := func() {
		if !started {
			return
		}
		index++
		msg, err := p.parseMailMessage(current.Bytes(), period, index)
		if err != nil {
			result.AddError(name, index, err.Error())
		} else {
			result.Messages = append(result.Messages, msg)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "From ") && prevBlank {
			flush()
			started = true
			prevBlank = false
			continue
		}
		if started {
			// mboxrd escaping
			if strings.HasPrefix(line, ">") && strings.HasPrefix(strings.TrimLeft(line, ">"), "From ") {
				line = line[1:]
			}
			current.WriteString(line)
			current.WriteByte('\n')
		}
		prevBlank = strings.TrimSpace(line) == ""
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read %s: %w", name, err)
	}
	flush()

	return result, nil
}

// parseMailMessage converts one RFC 5322 message into an archive message
func (p *Parser) parseMailMessage(raw []byte, period string, index int) (*types.Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	h := m.Header

	sentAt, err := mail.ParseDate(h.Get("Date"))
	if err != nil {
		return nil, fmt.Errorf("unparseable date %q", h.Get("Date"))
	}

	body, err := readBody(h, m.Body)
	if err != nil {
		return nil, fmt.Errorf("unreadable body: %w", err)
	}

	id := strings.TrimSpace(h.Get("Message-Id"))
	if id == "" {
		id = fmt.Sprintf("<mbox-%s-%d@local>", strings.ReplaceAll(period, "/", "-"), index)
	}

	from := decodeHeader(h.Get("From"))
	author := ParseAuthorName(from)
	if author == "" {
		author = UnknownAuthor
	}

	subject := NormalizeSubject(decodeHeader(h.Get("Subject")))
	if subject == "" {
		subject = DefaultSubject
	}

	var parent string
	if refs := ParseReferences(h.Get("In-Reply-To")); len(refs) > 0 {
		parent = refs[0]
	}

	return &types.Message{
		ID:             id,
		ParentID:       parent,
		References:     ParseReferences(h.Get("References")),
		Subject:        subject,
		AuthorName:     author,
		AuthorEmail:    ObfuscateAddress(from),
		SentAt:         sentAt.UTC(),
		BodyClean:      StripQuotedLines(body),
		BodyNewContent: ExtractNewContent(body),
		SourceURL:      p.sourceURL(period),
		MonthPeriod:    period,
	}, nil
}

// readBody returns the text/plain content, decoding transfer encoding and charset
func readBody(h mail.Header, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		var parts []string
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
			if strings.Contains(strings.ToLower(part.Header.Get("Content-Disposition")), "attachment") {
				continue
			}
			text, err := readBody(mail.Header(part.Header), part)
			if err != nil {
				return "", err
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n"), nil
	}

	if mediaType != "text/plain" {
		return "", nil
	}

	var decoded io.Reader = body
	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "quoted-printable":
		decoded = quotedprintable.NewReader(body)
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, body)
	}

	data, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}
	return decodeCharset(data, params["charset"]), nil
}

func decodeCharset(data []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return string(out)
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

func decodeHeader(value string) string {
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}

// MonthPeriodFromFilename maps "2024-03.mbox" to "2024/03"
func MonthPeriodFromFilename(name string) string {
	m := periodFromName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "unknown/00"
	}
	return m[1] + "/" + m[2]
}
