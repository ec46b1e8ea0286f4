package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_SplitExactExample(t *testing.T) {
	chunks := SplitText("abcdefghij", 4)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, chunks)
}

func TestChunker_EmptyInput(t *testing.T) {
	chunks := NewChunker(10, 0).Split("")
	require.NotNil(t, chunks)
	assert.Empty(t, chunks)
}

func TestChunker_RoundTrip(t *testing.T) {
	inputs := []string{
		"The sky is blue. The grass is green.",
		"  leading and trailing whitespace \n\n\t kept  ",
		"多字节字符：知识库分块测试，保持原文不变。",
		strings.Repeat("lorem ipsum dolor sit amet ", 97),
		"a",
	}
	sizes := []int{1, 3, 7, 64, 1000}

	for _, input := range inputs {
		for _, size := range sizes {
			chunks := SplitText(input, size)
			assert.Equal(t, input, strings.Join(chunks, ""), "size=%d", size)
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), size)
				assert.NotEmpty(t, c)
			}
		}
	}
}

func TestChunker_RoundTripInvalidUTF8(t *testing.T) {
	input := "ab\xffcd\xe4\xb8"
	chunks := SplitText(input, 2)
	assert.Equal(t, []string{"ab", "\xffc", "d\xe4", "\xb8"}, chunks)
	assert.Equal(t, input, strings.Join(chunks, ""))

	chunks = NewChunker(3, 1).Split("知\xff识库")
	assert.Equal(t, []string{"知\xff识", "识库"}, chunks)
}

func TestChunker_Deterministic(t *testing.T) {
	text := strings.Repeat("deterministic ", 50)
	assert.Equal(t, SplitText(text, 33), SplitText(text, 33))
}

func TestChunker_Defaults(t *testing.T) {
	c := NewChunker(0, -5)
	assert.Equal(t, DefaultChunkSize, c.Size())
	assert.Equal(t, 0, c.Overlap())

	c = NewChunker(100, 200)
	assert.Equal(t, 25, c.Overlap())
}

func TestChunker_Overlap(t *testing.T) {
	chunks := NewChunker(4, 2).Split("abcdefgh")
	assert.Equal(t, []string{"abcd", "cdef", "efgh"}, chunks)
}

func TestChunker_SplitFileTagsChunks(t *testing.T) {
	chunks := NewChunker(4, 0).SplitFile("abcdefghij", "s1", "notes.txt", 7)
	require.Len(t, chunks, 3)

	seen := map[string]bool{}
	for i, c := range chunks {
		assert.Equal(t, 7+i, c.Index)
		assert.Equal(t, "s1", c.SessionID)
		assert.Equal(t, "notes.txt", c.FileName)
		assert.True(t, strings.HasPrefix(c.ID, "notes.txt-"))
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestNewChunkID_Unique(t *testing.T) {
	a := NewChunkID("Quarterly Report (final).pdf", 0)
	b := NewChunkID("Quarterly Report (final).pdf", 0)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "quarterly_report__final_.pdf-0-"))
	assert.Equal(t, "chunk", slugFileName("###"))
}
