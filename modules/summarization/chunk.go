package summarization

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// chunkText splits text into chunks of at most limit characters. Words are
// never split unless a single word is longer than limit; paragraph breaks
// are kept inside a chunk.
func chunkText(_ context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("summarization: max_chunk_size must be positive, got %d", limit)
	}
	c := chunker{limit: limit}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		sep := "\n\n"
		for _, word := range strings.Fields(para) {
			c.add(word, sep)
			sep = " "
		}
	}
	c.flush()
	return c.chunks, nil
}

type chunker struct {
	limit  int
	chunks []string
	cur    strings.Builder
	curLen int
}

func (c *chunker) add(word, sep string) {
	wl := utf8.RuneCountInString(word)
	if wl > c.limit {
		c.flush()
		runes := []rune(word)
		for len(runes) > c.limit {
			c.chunks = append(c.chunks, string(runes[:c.limit]))
			runes = runes[c.limit:]
		}
		c.cur.WriteString(string(runes))
		c.curLen = len(runes)
		return
	}
	if c.curLen > 0 && c.curLen+len(sep)+wl > c.limit {
		c.flush()
	}
	if c.curLen > 0 {
		c.cur.WriteString(sep)
		c.curLen += len(sep)
	}
	c.cur.WriteString(word)
	c.curLen += wl
}

func (c *chunker) flush() {
	if c.curLen == 0 {
		return
	}
	c.chunks = append(c.chunks, c.cur.String())
	c.cur.Reset()
	c.curLen = 0
}
