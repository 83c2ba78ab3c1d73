// Package bilingual annotates non-English spans of patient speech with
// inline English translations, leaving the original text intact.
package bilingual

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Translator maps arbitrary text to English. An error means the translation
// is unavailable; the formatter then degrades instead of failing.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage string) (string, error)
}

// translateConcurrency bounds the fan-out of translation requests per call.
const translateConcurrency = 8

// Formatter implements the segment-then-retranslate algorithm: classify the
// input token by token, group adjacent non-English letter runs into
// segments, then translate each segment as a whole phrase. Translating the
// phrase rather than reusing per-token translations keeps idioms intact at
// the cost of one extra request per segment.
type Formatter struct {
	translator Translator
	log        *zap.Logger
}

// New constructs a Formatter. A nil logger is replaced with a no-op logger.
func New(t Translator, log *zap.Logger) *Formatter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Formatter{translator: t, log: log}
}

type tokenKind int

const (
	tokenLetters tokenKind = iota // maximal run of letters/combining marks
	tokenSpace                    // maximal run of whitespace
	tokenOther                    // punctuation, symbols, digits
)

type token struct {
	kind tokenKind
	text string
}

type classification int

const (
	classUnknown classification = iota // translation failed; inherit
	classEnglish
	classForeign
)

// segment is a maximal run of same-classification letter tokens plus the
// whitespace between them. Trailing whitespace stays outside the
// parenthetical annotation.
type segment struct {
	core     string
	trailing string
	foreign  bool
}

// piece is one ordered unit of output: either literal pass-through text or a
// segment pending phrase translation.
type piece struct {
	literal string
	seg     *segment
}

// Format returns the text with every non-English segment followed by its
// English translation in parentheses. English spans, punctuation, whitespace
// and digits pass through unchanged and in original order. Format never
// fails: any translator error degrades to emitting the affected text as-is.
func (f *Formatter) Format(ctx context.Context, text, sourceLanguage string) string {
	if text == "" {
		return ""
	}
	tokens := tokenize(text)
	classes := f.classifyTokens(ctx, tokens, sourceLanguage)
	pieces := buildPieces(tokens, classes)
	f.translateSegments(ctx, pieces, sourceLanguage)

	var b strings.Builder
	for _, p := range pieces {
		if p.seg == nil {
			b.WriteString(p.literal)
			continue
		}
		b.WriteString(p.seg.render())
	}
	return b.String()
}

func (s *segment) render() string {
	return s.core + s.trailing
}

// tokenize splits the input into maximal runs of letters, whitespace, and
// everything else. Letters include Unicode combining marks so text in any
// script tokenizes as whole words.
func tokenize(s string) []token {
	var tokens []token
	var run []rune
	current := tokenKind(-1)
	flush := func() {
		if len(run) > 0 {
			tokens = append(tokens, token{kind: current, text: string(run)})
			run = run[:0]
		}
	}
	for _, r := range s {
		kind := tokenOther
		switch {
		case unicode.IsLetter(r) || unicode.Is(unicode.Mark, r):
			kind = tokenLetters
		case unicode.IsSpace(r):
			kind = tokenSpace
		}
		if kind != current {
			flush()
			current = kind
		}
		run = append(run, r)
	}
	flush()
	return tokens
}

// classifyTokens translates each letter-run token on its own to decide
// whether it is English. Queries fan out concurrently; results are applied
// in input order. A failed query yields classUnknown, which later inherits
// the classification of the currently-open segment.
func (f *Formatter) classifyTokens(ctx context.Context, tokens []token, sourceLanguage string) []classification {
	classes := make([]classification, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(translateConcurrency)
	for i, tok := range tokens {
		if tok.kind != tokenLetters {
			continue
		}
		i, tok := i, tok
		g.Go(func() error {
			translated, err := f.translator.Translate(gctx, tok.text, sourceLanguage)
			if err != nil {
				f.log.Debug("token classification degraded", zap.String("token", tok.text), zap.Error(err))
				classes[i] = classUnknown
				return nil
			}
			if strings.EqualFold(strings.TrimSpace(translated), tok.text) {
				classes[i] = classEnglish
			} else {
				classes[i] = classForeign
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return classes
}

// buildPieces greedily groups adjacent letter tokens of the same
// classification (plus interleaved whitespace) into segments. A
// classification change or a non-letter token closes the open segment;
// whitespace after the last letter token stays outside it.
func buildPieces(tokens []token, classes []classification) []piece {
	var pieces []piece
	var open *segment
	var openForeign bool
	pending := "" // whitespace seen since the last letter token of the open segment

	closeOpen := func() {
		if open == nil {
			return
		}
		open.trailing = pending
		pending = ""
		pieces = append(pieces, piece{seg: open})
		open = nil
	}

	for i, tok := range tokens {
		switch tok.kind {
		case tokenLetters:
			class := classes[i]
			if class == classUnknown {
				// Inherit the open segment's classification, defaulting to
				// English when no segment is open.
				if open != nil && openForeign {
					class = classForeign
				} else {
					class = classEnglish
				}
			}
			foreign := class == classForeign
			if open != nil && openForeign == foreign {
				open.core += pending + tok.text
				pending = ""
				continue
			}
			closeOpen()
			open = &segment{core: tok.text, foreign: foreign}
			openForeign = foreign
		case tokenSpace:
			if open != nil {
				pending += tok.text
			} else {
				pieces = append(pieces, piece{literal: tok.text})
			}
		default:
			closeOpen()
			pieces = append(pieces, piece{literal: tok.text})
		}
	}
	closeOpen()
	if pending != "" {
		pieces = append(pieces, piece{literal: pending})
	}
	return pieces
}

// translateSegments retranslates every closed non-English segment as a whole
// phrase, fanning out and joining before any output is assembled. A missing
// or identical translation leaves the segment unchanged rather than showing
// a no-op parenthetical.
func (f *Formatter) translateSegments(ctx context.Context, pieces []piece, sourceLanguage string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(translateConcurrency)
	for _, p := range pieces {
		if p.seg == nil || !p.seg.foreign {
			continue
		}
		seg := p.seg
		g.Go(func() error {
			translated, err := f.translator.Translate(gctx, seg.core, sourceLanguage)
			if err != nil {
				f.log.Debug("segment translation degraded", zap.String("segment", seg.core), zap.Error(err))
				return nil
			}
			translated = strings.TrimSpace(translated)
			if translated == "" || strings.EqualFold(translated, strings.TrimSpace(seg.core)) {
				return nil
			}
			seg.core = seg.core + " (" + translated + ")"
			return nil
		})
	}
	_ = g.Wait()
}
