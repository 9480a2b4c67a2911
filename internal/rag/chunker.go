package rag

import "strings"

const (
	// ChunkWords is the target chunk size in words.
	ChunkWords = 400

	// ChunkOverlap is the number of words repeated between
	// consecutive chunks.
	ChunkOverlap = 50

	// MaxChunksPerDocument hard-caps chunks for one document.
	MaxChunksPerDocument = 500
)

// chunkText splits text into overlapping word-based chunks. The last
// chunk may be short; a trailing fragment fully covered by the
// previous chunk's overlap is dropped.
func chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= ChunkWords {
		return []string{strings.Join(words, " ")}
	}

	step := ChunkWords - ChunkOverlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + ChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if len(chunks) >= MaxChunksPerDocument || end == len(words) {
			break
		}
	}
	return chunks
}
