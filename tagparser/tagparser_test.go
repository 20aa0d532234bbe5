package tagparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeed_PlainTextNoTags(t *testing.T) {
	t.Parallel()

	p := New()
	texts, tags := p.Feed("hello world")
	require.Equal(t, []string{"hello world"}, texts)
	require.Empty(t, tags)
}

func TestFeed_SelfClosingTag(t *testing.T) {
	t.Parallel()

	p := New()
	texts, tags := p.Feed(`before <note key="v"/> after`)
	require.Equal(t, []string{"before "}, texts)
	require.Len(t, tags, 1)
	require.Equal(t, "note", tags[0].Name)
	require.Equal(t, "v", tags[0].Attrs["key"])

	// "after" isn't flushed until Flush/more input since nothing follows it.
	rest, _ := p.Flush()
	require.Equal(t, []string{"after"}, rest)
}

func TestFeed_TagSpanningChunks(t *testing.T) {
	t.Parallel()

	p := New()
	texts1, tags1 := p.Feed("before <thinking>part")
	require.Equal(t, []string{"before "}, texts1)
	require.Empty(t, tags1)

	texts2, tags2 := p.Feed(" one</thinking> after")
	require.Empty(t, texts2)
	require.Len(t, tags2, 1)
	require.Equal(t, "thinking", tags2[0].Name)
	require.Equal(t, "part one", tags2[0].Body)

	rest, _ := p.Flush()
	require.Equal(t, []string{"after"}, rest)
}

func TestFeed_RepeatedAttributeCollapsesToList(t *testing.T) {
	t.Parallel()

	p := New()
	_, tags := p.Feed(`<tag k="a" k="b"/>`)
	require.Len(t, tags, 1)
	require.Equal(t, []string{"a", "b"}, tags[0].Attrs["k"])
}

func TestFeed_BareAndUnquotedAttributes(t *testing.T) {
	t.Parallel()

	p := New()
	_, tags := p.Feed(`<tag bare k=v q='single'/>`)
	require.Len(t, tags, 1)
	require.Equal(t, "", tags[0].Attrs["bare"])
	require.Equal(t, "v", tags[0].Attrs["k"])
	require.Equal(t, "single", tags[0].Attrs["q"])
}

func TestFeed_UnmatchedClosingTagDropped(t *testing.T) {
	t.Parallel()

	p := New()
	texts, tags := p.Feed("hello </stray> world")
	require.Empty(t, tags)
	require.Equal(t, []string{"hello ", " world"}, texts)
}

func TestFeed_WhitespaceTrimmedOnlyAtTagBoundaries(t *testing.T) {
	t.Parallel()

	p := New()
	texts, _ := p.Feed("  hello  <tag/>  world  ")
	require.Equal(t, "  hello  ", texts[0])

	rest, _ := p.Flush()
	// left-trimmed because previous emission was a tag; interior spaces kept.
	require.Equal(t, "world  ", rest[0])
}

func TestFlush_UnclosedTagDegradesToText(t *testing.T) {
	t.Parallel()

	p := New()
	p.Feed("before <thinking>never closed")
	texts, tags := p.Flush()
	require.Empty(t, tags)
	require.Equal(t, "<thinking>never closed", strings.Join(texts, ""))
}

func TestReset_AllowsReuse(t *testing.T) {
	t.Parallel()

	p := New()
	p.Feed("<thinking>partial")
	p.Reset()

	texts, tags := p.Feed("clean start")
	require.Equal(t, []string{"clean start"}, texts)
	require.Empty(t, tags)
}
