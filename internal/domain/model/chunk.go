package model

// ChunkType classifies what kind of prose a chunk holds. The type drives
// split decisions in the chunker and is stored as vector metadata so
// retrieval can filter scenes from dialogue.
type ChunkType string

const (
	ChunkGeneral  ChunkType = "general"
	ChunkScene    ChunkType = "scene"
	ChunkDialogue ChunkType = "dialogue"
)

// TextChunk is a bounded, typed, overlapping segment of document text.
// StartIndex/EndIndex are rune offsets into the original document and
// Text == original[StartIndex:EndIndex] always holds; consecutive chunks
// overlap by up to the configured overlap width.
type TextChunk struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	StartIndex int       `json:"startIndex"`
	EndIndex   int       `json:"endIndex"`
	Index      int       `json:"index"`
	Type       ChunkType `json:"type"`
}
