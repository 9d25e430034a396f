package parser

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"
)

var (
	attributionLine = regexp.MustCompile(`^On .{5,100} wrote:?\s*$`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
	pipermailAddr   = regexp.MustCompile(`\s+\S+\s+at\s+\S+`)
	messageIDToken  = regexp.MustCompile(`<[^>]+>`)
	replyPrefixes   = regexp.MustCompile(`(?i)^(re:\s*)+`)
	proposalNumber  = regexp.MustCompile(`\bP\d{3,4}(?:R\d+)?\b`)
)

// StripQuotedLines drops lines quoting earlier messages ("> ...").
// Attribution lines are kept.
func StripQuotedLines(body string) string {
	lines := strings.Split(normalizeNewlines(body), "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// ExtractNewContent keeps only what the author wrote: quoted lines and
// "On ... wrote:" attributions are dropped and blank runs collapsed.
func ExtractNewContent(body string) string {
	lines := strings.Split(normalizeNewlines(body), "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, ">") || attributionLine.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	text := blankRuns.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// ParseAuthorName returns the display name from a From header.
// Pipermail's "Jane Doe jane at example.org" form is understood too.
func ParseAuthorName(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		if name := strings.TrimSpace(addr.Name); name != "" {
			return name
		}
	}
	if cleaned := strings.TrimSpace(pipermailAddr.ReplaceAllString(from, "")); cleaned != "" {
		return cleaned
	}
	return from
}

// ObfuscateAddress rewrites user@host as "user at host", the way the archive publishes it
func ObfuscateAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.Replace(addr.Address, "@", " at ", 1)
	}
	return strings.TrimSpace(from)
}

// ParseReferences extracts the <message-id> tokens of a References header
func ParseReferences(header string) []string {
	ids := messageIDToken.FindAllString(header, -1)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// NormalizeSubject collapses stacked reply prefixes into a single "Re: "
func NormalizeSubject(subject string) string {
	subject = strings.Join(strings.Fields(subject), " ")
	if loc := replyPrefixes.FindStringIndex(subject); loc != nil {
		subject = "Re: " + subject[loc[1]:]
	}
	return subject
}

// ExtractProposalNumbers finds paper numbers such as P1234 or P2300R1, deduplicated and sorted
func ExtractProposalNumbers(text string) []string {
	matches := proposalNumber.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
