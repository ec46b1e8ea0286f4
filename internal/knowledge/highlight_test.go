package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighlight_MarksEveryOccurrence(t *testing.T) {
	text := "The sky is blue. The grass is green. The sky is blue."
	out := Highlight(text, []Citation{{Text: "The sky is blue."}})
	assert.Equal(t, "<mark>The sky is blue.</mark> The grass is green. <mark>The sky is blue.</mark>", out)
}

func TestHighlight_MergesOverlaps(t *testing.T) {
	out := Highlight("abcdefgh", []Citation{{Text: "bcd"}, {Text: "cdef"}, {Text: "zzz"}})
	assert.Equal(t, "a<mark>bcdef</mark>gh", out)
}

func TestHighlight_EscapesHTML(t *testing.T) {
	out := Highlight("<b>x</b> & y", []Citation{{Text: "y"}})
	assert.Equal(t, "&lt;b&gt;x&lt;/b&gt; &amp; <mark>y</mark>", out)

	assert.Equal(t, "plain &amp; simple", Highlight("plain & simple", nil))
}

func TestBestSentence(t *testing.T) {
	text := "The sky is blue. The grass is green."
	assert.Equal(t, "The sky is blue.", BestSentence(text, "What color is the sky?"))
	assert.Equal(t, "", BestSentence(text, "quantum chromodynamics"))
}

func TestExtractiveChatModel(t *testing.T) {
	answer, err := ExtractiveChatModel{}.Complete(context.Background(), []ChatMessage{
		{Role: RoleSystem, Content: "answer from context"},
		{Role: RoleUser, Content: "Context:\nThe sky is blue. The grass is green.\n\nQuestion: What color is the sky?"},
	})
	require.NoError(t, err)
	assert.Contains(t, answer, "blue")
}
