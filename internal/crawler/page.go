package crawler

import (
	"bytes"
	"fmt"
	"net/mail"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dshills/threadqa-mcp/internal/parser"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

var (
	periodHref   = regexp.MustCompile(`^(\d{4})/(\d{2})(?:/.*)?$`)
	messageHref  = regexp.MustCompile(`^(msg)?\d+\.(php|html?)$`)
	commentField = regexp.MustCompile(`^\s*(\w+)="([^"]*)"\s*$`)
)

// Layouts tried after RFC 5322 for a page's sent date
var pageDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"January 2, 2006 3:04 PM",
}

// Header names read from "Key: value" list items on older pages
var listHeaders = []string{"From", "Date", "Message-ID", "In-Reply-To", "References"}

// pageLinks returns the href of every anchor in page, in document order
func pageLinks(page []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	var links []string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := strings.TrimSpace(attr(n, "href")); href != "" {
				links = append(links, href)
			}
		}
		return true
	})
	return links, nil
}

// parsePeriods maps front-page links below base ("2025/03/index.php",
// "2025/03/") to their YYYY/MM period
func parsePeriods(base *url.URL, links []string) []string {
	var periods []string
	prefix := strings.TrimRight(base.Path, "/") + "/"
	for _, href := range links {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		if !ref.IsAbs() && !strings.HasPrefix(ref.Path, "/") {
			ref.Path = path.Clean(ref.Path)
			if strings.HasPrefix(ref.Path, "..") {
				continue
			}
		} else {
			abs := base.ResolveReference(ref)
			if abs.Host != base.Host || !strings.HasPrefix(abs.Path, prefix) {
				continue
			}
			ref = &url.URL{Path: strings.TrimPrefix(abs.Path, prefix)}
		}

		m := periodHref.FindStringSubmatch(ref.Path)
		if m == nil {
			continue
		}
		period := m[1] + "/" + m[2]
		if ValidPeriod(period) {
			periods = append(periods, period)
		}
	}
	return periods
}

// messageURLs resolves a month index's message links, deduplicated in order
func messageURLs(indexURL string, links []string) []string {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, href := range links {
		if !messageHref.MatchString(href) {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		u := base.ResolveReference(ref).String()
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// parseMessagePage reads one message page. Headers come from the archive's
// HTML comments, falling back to "Key: value" list items. Message IDs are
// bracketed ("<id@host>") to match mbox exports.
func parseMessagePage(page []byte, pageURL, period, listName string) (*types.Message, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("invalid HTML: %w", err)
	}

	headers := commentHeaders(doc)
	if headers["name"] == "" {
		fallback := listItemHeaders(doc)
		from := fallback["From"]
		headers["name"] = parser.ParseAuthorName(from)
		headers["email"] = from
		for key, field := range map[string]string{
			"id":         "Message-ID",
			"inreplyto":  "In-Reply-To",
			"references": "References",
			"sent":       "Date",
		} {
			if headers[key] == "" {
				headers[key] = fallback[field]
			}
		}
	}

	sentAt, err := parsePageDate(headers["sent"])
	if err != nil {
		return nil, err
	}

	id := bracketID(headers["id"])
	if id == "" {
		name := strings.TrimSuffix(path.Base(pageURL), path.Ext(pageURL))
		id = fmt.Sprintf("<synthetic-%s@%s>", name, strings.ReplaceAll(period, "/", "."))
	}

	subject := parser.NormalizeSubject(pageSubject(doc, listName))
	if subject == "" {
		subject = parser.DefaultSubject
	}
	author := strings.TrimSpace(headers["name"])
	if author == "" {
		author = parser.UnknownAuthor
	}

	body := pageBody(doc)
	return &types.Message{
		ID:             id,
		ParentID:       bracketID(headers["inreplyto"]),
		References:     parseReferenceList(headers["references"]),
		Subject:        subject,
		AuthorName:     author,
		AuthorEmail:    strings.TrimSpace(headers["email"]),
		SentAt:         sentAt.UTC(),
		BodyClean:      parser.StripQuotedLines(body),
		BodyNewContent: parser.ExtractNewContent(body),
		SourceURL:      pageURL,
		MonthPeriod:    period,
	}, nil
}

// commentHeaders collects <!-- key="value" --> comments, keys lowercased
func commentHeaders(doc *html.Node) map[string]string {
	headers := make(map[string]string)
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.CommentNode {
			if m := commentField.FindStringSubmatch(n.Data); m != nil {
				headers[strings.ToLower(m[1])] = strings.TrimSpace(html.UnescapeString(m[2]))
			}
		}
		return true
	})
	return headers
}

func listItemHeaders(doc *html.Node) map[string]string {
	headers := make(map[string]string)
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Li {
			return true
		}
		line := strings.TrimSpace(textContent(n, ""))
		for _, key := range listHeaders {
			if value, ok := strings.CutPrefix(line, key+":"); ok {
				if _, dup := headers[key]; !dup {
					headers[key] = strings.TrimSpace(value)
				}
				break
			}
		}
		return false
	})
	return headers
}

// pageSubject is the first <h1> that is not the list name, else the last <h1>
func pageSubject(doc *html.Node, listName string) string {
	var headings []string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.H1 {
			headings = append(headings, strings.TrimSpace(textContent(n, "")))
			return false
		}
		return true
	})
	for _, h := range headings {
		if h != "" && h != listName {
			return h
		}
	}
	if len(headings) > 0 {
		return headings[len(headings)-1]
	}
	return ""
}

// pageBody is the text of the element with id "start" (HTML mail) without
// its quoted spans, or else the first <pre> (plain-text mail)
func pageBody(doc *html.Node) string {
	var start, pre *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if start == nil && attr(n, "id") == "start" {
			start = n
		}
		if pre == nil && n.DataAtom == atom.Pre {
			pre = n
		}
		return start == nil
	})
	switch {
	case start != nil:
		return textContent(start, "\n")
	case pre != nil:
		return textContent(pre, "")
	}
	return ""
}

func parsePageDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t, nil
	}
	for _, layout := range pageDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// bracketID trims an ID and wraps it in angle brackets when bare
func bracketID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

// parseReferenceList accepts bracketed or whitespace-separated bare IDs
func parseReferenceList(header string) []string {
	if refs := parser.ParseReferences(header); len(refs) > 0 {
		return refs
	}
	fields := strings.Fields(header)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, bracketID(f))
	}
	return out
}

// textContent joins the text below n with sep, skipping quoted spans
func textContent(n *html.Node, sep string) string {
	var parts []string
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.TextNode:
			parts = append(parts, c.Data)
		case html.ElementNode:
			if c.DataAtom == atom.Span && strings.Contains(attr(c, "class"), "quotelev") {
				return false
			}
		}
		return true
	})
	return strings.Join(parts, sep)
}

// walk visits n and its descendants depth-first; fn returning false skips children
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
