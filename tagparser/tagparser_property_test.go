package tagparser

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestChunkingInvariantProperty verifies that splitting an input into
// arbitrary chunk boundaries never changes the sequence of tags extracted,
// nor the concatenation of text fragments — only where the Parser happens
// to pause mid-fragment. Re-joining everything fed through N chunks must
// equal feeding it as one chunk.
func TestChunkingInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("chunk boundaries do not change extracted tags or text", prop.ForAll(
		func(tc tagStreamCase) bool {
			whole := New()
			wantText, wantTags := whole.Feed(tc.input)
			tailText, tailTags := whole.Flush()
			wantText = append(wantText, tailText...)
			wantTags = append(wantTags, tailTags...)

			chunked := New()
			var gotText []string
			var gotTags []Tag
			for _, piece := range splitInto(tc.input, tc.chunkSize) {
				text, tags := chunked.Feed(piece)
				gotText = append(gotText, text...)
				gotTags = append(gotTags, tags...)
			}
			tailText, tailTags = chunked.Flush()
			gotText = append(gotText, tailText...)
			gotTags = append(gotTags, tailTags...)

			if strings.Join(wantText, "") != strings.Join(gotText, "") {
				return false
			}
			if len(wantTags) != len(gotTags) {
				return false
			}
			for i := range wantTags {
				if wantTags[i].Name != gotTags[i].Name || wantTags[i].Body != gotTags[i].Body {
					return false
				}
			}
			return true
		},
		genTagStreamCase(),
	))

	properties.TestingRun(t)
}

type tagStreamCase struct {
	input     string
	chunkSize int
}

func genTagStreamCase() gopter.Gen {
	return gopter.CombineGens(
		genStreamInput(),
		gen.IntRange(1, 6),
	).Map(func(vals []any) tagStreamCase {
		return tagStreamCase{
			input:     vals[0].(string),
			chunkSize: vals[1].(int),
		}
	})
}

// genStreamInput builds plausible streamed text: plain words interleaved
// with well-formed <name>body</name> spans, biased toward the recognised
// thought-tag vocabulary.
func genStreamInput() gopter.Gen {
	words := []string{"hello", "world", "the", "plan", "is", "to", "refactor", "x"}
	names := []string{"thinking", "analysis", "plan", "note"}

	return gen.SliceOfN(5, gen.OneConstOf(
		words[0], words[1], words[2], words[3], words[4], words[5], words[6], words[7],
	)).Map(func(parts []string) string {
		var b strings.Builder
		for i, w := range parts {
			if i%3 == 2 {
				b.WriteString("<")
				b.WriteString(names[i%len(names)])
				b.WriteString(">")
				b.WriteString(w)
				b.WriteString("</")
				b.WriteString(names[i%len(names)])
				b.WriteString(">")
			} else {
				b.WriteString(w)
			}
			b.WriteString(" ")
		}
		return b.String()
	})
}

func splitInto(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		if len(s) <= size {
			out = append(out, s)
			break
		}
		out = append(out, s[:size])
		s = s[size:]
	}
	return out
}
