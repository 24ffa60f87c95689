package knowledge

import (
	"strings"
	"unicode/utf8"
)

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// Size is the target chunk length in characters.
	Size int
	// Overlap is the character overlap between consecutive chunks. The
	// overlap exists so a fact spanning a chunk boundary is retrievable from
	// at least one chunk.
	Overlap int
}

// DefaultChunkConfig matches the splitter settings the contract index was
// tuned with: ~1000-character chunks with 20% overlap.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: 1000, Overlap: 200}
}

// SplitText splits text into overlapping chunks. Chunk boundaries prefer the
// last whitespace before the size limit so words are not cut mid-rune or
// mid-word. Empty or whitespace-only input yields no chunks.
func SplitText(text string, config ChunkConfig) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if config.Size <= 0 {
		config = DefaultChunkConfig()
	}
	if config.Overlap >= config.Size {
		config.Overlap = config.Size / 5
	}

	if len(text) <= config.Size {
		return []string{text}
	}

	var chunks []string
	step := config.Size - config.Overlap
	start := 0
	for start < len(text) {
		end := start + config.Size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Back off to a whitespace boundary when one is reasonably close.
		cut := end
		if idx := strings.LastIndexFunc(text[start:end], isSpace); idx > step/2 {
			cut = start + idx
		}
		// Never cut inside a multi-byte rune.
		for cut > start && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut <= start {
			cut = end
		}

		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Advance relative to the actual cut, not the nominal step: bytes the
		// back-off pushed past the cut must open the next chunk, never be
		// skipped. The guard keeps forward progress when the cut is within
		// the overlap of the current start.
		next := cut - config.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
