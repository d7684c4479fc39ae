package processing_test

import (
	"testing"
	"time"

	"github.com/DeafMist/news-radar/backend/internal/processing"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "punctuation", input: "Hello!!!   world", want: "Hello world"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz", want: "foo bar baz"},
		{name: "remove urls", input: "Check https://example.com for info", want: "Check for info"},
		{name: "strip markup", input: "<p>Markets <b>rally</b></p>", want: "Markets rally"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processing.CleanText(tt.input); got != tt.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "Plain text.", want: "Plain text."},
		{name: "tags and entities", input: "<strong>Rates</strong> rise &amp; fall", want: "Rates rise & fall"},
		{name: "whitespace", input: " <p>a</p>\n<p>b</p> ", want: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, processing.StripHTML(tt.input))
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	text := "Election election election vote vote turnout and the the"
	got := processing.ExtractKeywords(text, 3, 3)
	want := []string{"election", "vote", "turnout"}
	require.Equal(t, want, got)

	require.Nil(t, processing.ExtractKeywords("", 5, 3))
}

func TestExtractKeywordsIgnoresURLWords(t *testing.T) {
	text := "Storm flooding flooding https://example.com/storm-news coast"
	got := processing.ExtractKeywords(text, 3, 3)
	require.ElementsMatch(t, []string{"flooding", "storm", "coast"}, got)
}

func TestBuildDocumentID(t *testing.T) {
	id1 := processing.BuildDocumentID("https://x/1")
	id2 := processing.BuildDocumentID(" https://x/1 ")
	require.NotEmpty(t, id1)
	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, processing.BuildDocumentID("https://x/2"))
}

func TestRemoveURLs(t *testing.T) {
	require.Equal(t, "read   now", processing.RemoveURLs("read https://example.com/a?b=1 now"))
	require.Equal(t, "no links", processing.RemoveURLs("no links"))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "General", want: "general"},
		{input: "World News", want: "world-news"},
		{input: "  US  politics! ", want: "us-politics"},
		{input: "Café & Bar", want: "cafe-and-bar"},
		{input: "Arts/Culture--2024", want: "arts-culture-2024"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.want, processing.Slugify(tt.input))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts := processing.ParseTimestamp("2024-02-03T04:05:06Z")
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), ts)

	nyt := processing.ParseTimestamp("2024-02-03T04:05:06+0000")
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), nyt)

	offset := processing.ParseTimestamp("2024-02-03T06:05:06+02:00")
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), offset)
	require.Equal(t, time.UTC, offset.Location())

	legacy := processing.ParseTimestamp("2024-02-03 04:05:06")
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), legacy)

	require.True(t, processing.ParseTimestamp("invalid").IsZero())
	require.True(t, processing.ParseTimestamp("").IsZero())
}
