// Package chunker splits raw prose into semantically typed, size-bounded,
// overlapping segments ready for embedding. Splitting is two-pass: classify
// paragraphs into scene/dialogue/general sections, then assemble sections
// into chunks that respect the size bounds and keep an overlap of trailing
// characters across boundaries.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"novel-ai-core/internal/domain/model"
)

const (
	DefaultMaxChunkSize = 1000
	DefaultMinChunkSize = 200
	DefaultOverlap      = 100

	// Paragraphs at most this many runes that immediately follow dialogue
	// are treated as dialogue too (short back-and-forth lines).
	shortDialogueMax = 40
)

// Options bound the produced chunks. Sizes and overlap are in runes.
type Options struct {
	MaxChunkSize int
	MinChunkSize int
	Overlap      int
}

func (o Options) withDefaults() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.MinChunkSize <= 0 || o.MinChunkSize >= o.MaxChunkSize {
		o.MinChunkSize = o.MaxChunkSize / 5
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.MinChunkSize {
		o.Overlap = o.MinChunkSize / 2
	}
	return o
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// Scene markers: explicit scene/INT./EXT. prefixes (Latin and CJK), rule
// lines of repeated punctuation, and short time-or-location header lines.
var (
	sceneMarkerRe = regexp.MustCompile(`(?i)^\s*(scene\b|int\.|ext\.|场景|【场景|第[一二三四五六七八九十百零0-9]+[章节幕回])`)
	ruleLineRe    = regexp.MustCompile(`^\s*[-=*~#＊—─·]{3,}\s*$`)
	timeHeaderRe  = regexp.MustCompile(`^\s*((清晨|早晨|上午|中午|下午|傍晚|黄昏|夜晚|深夜|黎明)[，,。．\s]|[0-2]?[0-9]:[0-5][0-9]\b)`)
	locHeaderRe   = regexp.MustCompile(`^\s*\S{1,24}[:：]\s*$`)

	// whitespace after the colon is optional; a bare "Name:" line with
	// nothing behind it stays a location header
	speakerRe = regexp.MustCompile(`^\s*[\p{L}·]{1,16}[:：]\s*\S`)
)

var dialogueOpeners = map[rune]bool{
	'"': true, '“': true, '”': true, '‘': true, '\'': true,
	'「': true, '『': true, '＂': true,
}

type section struct {
	start, end int // rune offsets, tiling the whole text
	typ        model.ChunkType
}

// Split produces chunks in increasing index order. Chunks tile the input
// modulo the configured overlap; a chunk never exceeds MaxChunkSize except
// when no natural boundary exists past MinChunkSize, in which case the hard
// maximum is used as a fallback cut.
func (c *Chunker) Split(text string) []model.TextChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.opts.MaxChunkSize {
		return []model.TextChunk{{
			ID:         uuid.NewString(),
			Text:       text,
			StartIndex: 0,
			EndIndex:   len(runes),
			Index:      0,
			Type:       classifyFirstParagraph(runes),
		}}
	}

	sections := classify(runes)
	return c.assemble(runes, sections)
}

// classify splits into paragraphs, types each one and merges consecutive
// same-type paragraphs. Paragraph spans extend through their trailing blank
// lines so sections tile the text exactly.
func classify(runes []rune) []section {
	paras := splitParagraphs(runes)

	var out []section
	prevType := model.ChunkType("")
	for _, p := range paras {
		body := strings.TrimSpace(string(runes[p.start:p.end]))
		typ := classifyParagraph(body, prevType)
		prevType = typ
		if n := len(out); n > 0 && out[n-1].typ == typ {
			out[n-1].end = p.end
			continue
		}
		out = append(out, section{start: p.start, end: p.end, typ: typ})
	}
	return out
}

type span struct{ start, end int }

// splitParagraphs tiles runes into paragraph spans. A paragraph owns its
// trailing newlines so that concatenated spans reconstruct the input.
func splitParagraphs(runes []rune) []span {
	var out []span
	start := 0
	i := 0
	for i < len(runes) {
		// advance to end of line content
		for i < len(runes) && runes[i] != '\n' {
			i++
		}
		// consume the newline run; two or more newlines end a paragraph
		nl := 0
		for i < len(runes) && (runes[i] == '\n' || runes[i] == '\r') {
			if runes[i] == '\n' {
				nl++
			}
			i++
		}
		if nl >= 2 || i >= len(runes) {
			out = append(out, span{start: start, end: i})
			start = i
		}
	}
	if start < len(runes) {
		out = append(out, span{start: start, end: len(runes)})
	}
	return out
}

func classifyParagraph(body string, prev model.ChunkType) model.ChunkType {
	if body == "" {
		if prev != "" {
			return prev
		}
		return model.ChunkGeneral
	}
	if sceneMarkerRe.MatchString(body) || ruleLineRe.MatchString(body) ||
		timeHeaderRe.MatchString(body) || locHeaderRe.MatchString(body) {
		return model.ChunkScene
	}
	if isDialogue(body, prev) {
		return model.ChunkDialogue
	}
	return model.ChunkGeneral
}

func isDialogue(body string, prev model.ChunkType) bool {
	r := []rune(body)
	if dialogueOpeners[r[0]] {
		return true
	}
	if speakerRe.MatchString(body) {
		return true
	}
	// 1-paragraph lookback: short lines inside an exchange stay dialogue
	if prev == model.ChunkDialogue && len(r) <= shortDialogueMax {
		return true
	}
	return false
}

func classifyFirstParagraph(runes []rune) model.ChunkType {
	paras := splitParagraphs(runes)
	if len(paras) == 0 {
		return model.ChunkGeneral
	}
	body := strings.TrimSpace(string(runes[paras[0].start:paras[0].end]))
	return classifyParagraph(body, "")
}

// assemble walks classified sections and closes the running chunk when it
// would exceed MaxChunkSize, or when the section type changes and the chunk
// already spans at least MinChunkSize. Each new chunk re-opens overlap runes
// before the cut to preserve local context.
func (c *Chunker) assemble(runes []rune, sections []section) []model.TextChunk {
	var chunks []model.TextChunk
	max, min, overlap := c.opts.MaxChunkSize, c.opts.MinChunkSize, c.opts.Overlap

	emit := func(start, end int, typ model.ChunkType) {
		chunks = append(chunks, model.TextChunk{
			ID:         uuid.NewString(),
			Text:       string(runes[start:end]),
			StartIndex: start,
			EndIndex:   end,
			Index:      len(chunks),
			Type:       typ,
		})
	}

	// reopen returns the start of the next chunk so that it is seeded with
	// the last overlap runes of the chunk that just closed at cut.
	reopen := func(cut, closedStart int) int {
		next := cut - overlap
		if next <= closedStart {
			next = cut
		}
		return next
	}

	curStart, curEnd := -1, -1
	var curType model.ChunkType

	for _, s := range sections {
		if curStart < 0 {
			curStart, curEnd, curType = s.start, s.start, s.typ
		} else {
			typeChange := s.typ != curType && curEnd-curStart >= min
			tooBig := s.end-curStart > max && curEnd-curStart >= min
			if typeChange || tooBig {
				emit(curStart, curEnd, curType)
				curStart = reopen(curEnd, curStart)
				curType = s.typ
			}
		}
		curEnd = s.end

		// An oversized span is cut at sentence boundaries searched backward
		// from the hard maximum; when no boundary exists past min, the hard
		// maximum is the fallback cut.
		for curEnd-curStart > max {
			cut := findBoundary(runes, curStart+min, curStart+max)
			emit(curStart, cut, curType)
			curStart = reopen(cut, curStart)
			curType = s.typ
		}
	}
	if curStart >= 0 && curEnd > curStart {
		emit(curStart, curEnd, curType)
	}
	return chunks
}

var sentenceEnders = map[rune]bool{
	'。': true, '！': true, '？': true, '.': true, '!': true, '?': true,
	'\n': true, '…': true, '”': true, '」': true,
}

// findBoundary searches backward from hi for a sentence-ending rune strictly
// after lo; the cut lands just past the boundary rune. Falls back to hi.
func findBoundary(runes []rune, lo, hi int) int {
	if hi > len(runes) {
		hi = len(runes)
	}
	for i := hi - 1; i > lo; i-- {
		if sentenceEnders[runes[i]] {
			return i + 1
		}
	}
	return hi
}
