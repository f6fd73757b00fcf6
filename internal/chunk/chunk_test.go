package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	require.Empty(t, Chunk("", 100))
	require.Empty(t, Chunk("   \n\t  ", 100))
}

func TestChunkReconstructsInput(t *testing.T) {
	md := strings.Repeat("word ", 50) + "\n\n" + strings.Repeat("more text here. ", 80)
	chunks := Chunk(md, 200)
	require.Equal(t, md, strings.Join(chunks, ""))
}

func TestChunkFenceBalance(t *testing.T) {
	md := strings.Repeat("a", 2500) + "\n```python\n" + strings.Repeat("x=1\n", 200) + "```\n" + strings.Repeat("b", 300)
	chunks := Chunk(md, 1500)
	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		require.Zero(t, strings.Count(c, "```")%2, "chunk has unbalanced fences: %q", c)
	}
	require.Equal(t, md, strings.Join(chunks, ""))

	foundIntact := false
	for _, c := range chunks {
		if strings.Contains(c, "```python") && strings.Count(c, "```") == 2 {
			foundIntact = true
		}
	}
	require.True(t, foundIntact, "fenced block should appear intact within exactly one chunk")
}

func TestChunkRespectsSizeWhenNotFenced(t *testing.T) {
	md := strings.Repeat("paragraph text without fences. ", 300)
	chunks := Chunk(md, 500)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 500)
	}
}

func TestSectionHeaders(t *testing.T) {
	c := "# Title\n\nSome text\n## Sub\nmore text"
	info := Section(c)
	require.Equal(t, "# Title; ## Sub", info.Headers)
	require.Equal(t, len(c), info.CharCount)
}
