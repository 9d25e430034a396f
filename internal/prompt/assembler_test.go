package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

var t0 = time.Date(2023, 11, 7, 14, 30, 0, 0, time.UTC)

func scored(id string, at time.Time, body string) types.ScoredMessage {
	return types.ScoredMessage{Message: types.Message{
		ID:         id,
		Subject:    "Re: P2300 std::execution",
		AuthorName: "Jane Doe",
		SentAt:     at,
		BodyClean:  body,
	}}
}

func TestAssemble_BlockFormat(t *testing.T) {
	m := scored("a", t0, "Full body with > quotes removed")
	m.BodyNewContent = "Only the new lines."
	m.SourceURL = "https://lists.example.org/2023-November/000123.html"

	ctx := NewAssembler().Assemble([]types.ScoredMessage{m})

	want := "[1] From: Jane Doe | Date: 2023-11-07 14:30 UTC\n" +
		"Subject: Re: P2300 std::execution\n" +
		"URL: https://lists.example.org/2023-November/000123.html\n" +
		"\n" +
		"Only the new lines."
	assert.Equal(t, want, ctx.Text)
	require.Len(t, ctx.Messages, 1)
}

func TestAssemble_OmitsEmptyURLAndUsesCleanBody(t *testing.T) {
	m := scored("a", t0, "Clean body.")
	m.AuthorName = ""

	ctx := NewAssembler().Assemble([]types.ScoredMessage{m})

	assert.NotContains(t, ctx.Text, "URL:")
	assert.Contains(t, ctx.Text, "From: Unknown |")
	assert.True(t, strings.HasSuffix(ctx.Text, "\n\nClean body."))
}

func TestAssemble_SortsAndCaps(t *testing.T) {
	var msgs []types.ScoredMessage
	// Newest first, so sorting has work to do
	for i := 30; i > 0; i-- {
		msgs = append(msgs, scored(fmt.Sprintf("m%02d", i), t0.Add(time.Duration(i)*time.Hour), "body"))
	}

	ctx := NewAssembler().Assemble(msgs)

	require.Len(t, ctx.Messages, DefaultMaxMessages)
	for i := 1; i < len(ctx.Messages); i++ {
		assert.False(t, ctx.Messages[i].SentAt.Before(ctx.Messages[i-1].SentAt))
	}
	assert.Equal(t, "m01", ctx.Messages[0].ID)
	assert.Equal(t, "m20", ctx.Messages[19].ID)
	assert.Equal(t, DefaultMaxMessages, strings.Count(ctx.Text, "From: "))
	assert.Contains(t, ctx.Text, "[20] From:")
	assert.NotContains(t, ctx.Text, "[21] From:")
	assert.Equal(t, DefaultMaxMessages-1, strings.Count(ctx.Text, "\n\n---\n\n"))

	// Input is not reordered in place
	assert.Equal(t, "m30", msgs[0].ID)
}

func TestAssemble_StableForEqualTimes(t *testing.T) {
	msgs := []types.ScoredMessage{scored("x", t0, "1"), scored("y", t0, "2"), scored("z", t0, "3")}
	ctx := NewAssembler().Assemble(msgs)

	assert.Equal(t, "x", ctx.Messages[0].ID)
	assert.Equal(t, "y", ctx.Messages[1].ID)
	assert.Equal(t, "z", ctx.Messages[2].ID)
}

func TestAssemble_TruncatesLongBodies(t *testing.T) {
	long := strings.Repeat("ab", 1000)
	ctx := NewAssembler().Assemble([]types.ScoredMessage{scored("a", t0, long)})

	assert.True(t, strings.HasSuffix(ctx.Text, strings.Repeat("ab", 750)+TruncationMarker))
}

func TestAssemble_Empty(t *testing.T) {
	ctx := NewAssembler().Assemble(nil)
	assert.Equal(t, "", ctx.Text)
	assert.Empty(t, ctx.Messages)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", TruncateBody("short", 10))
	assert.Equal(t, "exact", TruncateBody("exact", 5))
	assert.Equal(t, "éé"+TruncationMarker, TruncateBody("ééé", 2))
}

func TestAssemble_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ctx := NewAssembler().Assemble([]types.ScoredMessage{scored("a", time.Date(2023, 11, 7, 9, 30, 0, 0, loc), "b")})
	assert.Contains(t, ctx.Text, "Date: 2023-11-07 14:30 UTC")
}
