package command

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// keywordBoost is the recognition boost requested for phrase words.
	keywordBoost = 2
)

// matchKind ranks how a phrase was found in a transcript. Lower is better.
type matchKind int

const (
	matchExact matchKind = iota
	matchPhonetic
	matchFuzzy
	matchNone
)

func (k matchKind) String() string {
	switch k {
	case matchExact:
		return "exact"
	case matchPhonetic:
		return "phonetic"
	case matchFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// PhraseOption is a functional option for [NewPhraseInterpreter].
type PhraseOption func(*PhraseInterpreter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetically
// aligned phrase must reach. Default: 0.70.
func WithPhoneticThreshold(threshold float64) PhraseOption {
	return func(p *PhraseInterpreter) {
		p.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a phrase that
// does not align phonetically. Default: 0.85.
func WithFuzzyThreshold(threshold float64) PhraseOption {
	return func(p *PhraseInterpreter) {
		p.fuzzyThreshold = threshold
	}
}

// compiledPhrase is a configured phrase with its tokens and Double Metaphone
// codes precomputed.
type compiledPhrase struct {
	cfg    config.CommandPhrase
	tokens []string
	codes  []map[string]struct{}
	joined string
}

// token is one transcript word: its normalised form used for matching and
// its spoken form reported as a parameter value.
type token struct {
	norm string
	orig string
}

// phraseMatch is the best placement of one phrase inside a transcript.
type phraseMatch struct {
	phrase *compiledPhrase
	kind   matchKind
	score  float64
	pos    int
	param  string
}

// better reports whether m should replace cur as the winning match.
func (m phraseMatch) better(cur phraseMatch) bool {
	if cur.phrase == nil {
		return true
	}
	if m.kind != cur.kind {
		return m.kind < cur.kind
	}
	if m.score != cur.score {
		return m.score > cur.score
	}
	if m.pos != cur.pos {
		return m.pos < cur.pos
	}
	return len(m.phrase.tokens) > len(cur.phrase.tokens)
}

// PhraseInterpreter recognises configured command phrases in a transcript.
//
// Each phrase is slid over the transcript one word at a time. A window
// matches when its words are equal to the phrase words, or when every word
// pair shares a Double Metaphone code and the Jaro-Winkler similarity of the
// window reaches the phonetic threshold, or failing both, when the similarity
// alone reaches the fuzzy threshold. Exact matches beat phonetic matches,
// which beat fuzzy ones. When the phrase declares a Parameter, the words
// after the window become its value and must not be empty.
//
// A PhraseInterpreter is read-only after construction and safe for
// concurrent use.
type PhraseInterpreter struct {
	phrases           []compiledPhrase
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewPhraseInterpreter compiles phrases. Entries whose phrase contains no
// words are skipped.
func NewPhraseInterpreter(phrases []config.CommandPhrase, opts ...PhraseOption) *PhraseInterpreter {
	p := &PhraseInterpreter{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	for _, cfg := range phrases {
		toks := tokenize(cfg.Phrase)
		if len(toks) == 0 {
			continue
		}
		cp := compiledPhrase{cfg: cfg}
		for _, t := range toks {
			cp.tokens = append(cp.tokens, t.norm)
			cp.codes = append(cp.codes, metaphoneCodes(t.norm))
		}
		cp.joined = strings.Join(cp.tokens, " ")
		p.phrases = append(p.phrases, cp)
	}
	return p
}

// Name returns "phrase".
func (p *PhraseInterpreter) Name() string { return "phrase" }

// Len returns the number of compiled phrases.
func (p *PhraseInterpreter) Len() int { return len(p.phrases) }

// Keywords returns the distinct phrase words as STT vocabulary hints.
func (p *PhraseInterpreter) Keywords() []stt.KeywordBoost {
	seen := make(map[string]struct{})
	var out []stt.KeywordBoost
	for _, cp := range p.phrases {
		for _, t := range cp.tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, stt.KeywordBoost{Keyword: t, Boost: keywordBoost})
		}
	}
	return out
}

// Interpret returns the command of the best matching phrase, or nil when no
// phrase matches.
func (p *PhraseInterpreter) Interpret(ctx context.Context, transcript string) (*Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := p.match(transcript)
	if m.phrase == nil {
		return nil, nil
	}

	cmd := &Command{Intent: m.phrase.cfg.Intent}
	if name := m.phrase.cfg.Parameter; name != "" {
		cmd.Parameters = map[string]string{name: m.param}
	}
	cmd.Feedback = renderFeedback(m.phrase.cfg.Feedback, cmd.Parameters)
	return cmd, nil
}

// match returns the winning placement across all phrases. The zero value
// means nothing matched.
func (p *PhraseInterpreter) match(transcript string) phraseMatch {
	toks := tokenize(transcript)
	var best phraseMatch
	if len(toks) == 0 {
		return best
	}

	norms := make([]string, len(toks))
	codes := make([]map[string]struct{}, len(toks))
	for i, t := range toks {
		norms[i] = t.norm
		codes[i] = metaphoneCodes(t.norm)
	}

	for i := range p.phrases {
		cp := &p.phrases[i]
		n := len(cp.tokens)
		for pos := 0; pos+n <= len(toks); pos++ {
			kind, score := p.scoreWindow(cp, norms[pos:pos+n], codes[pos:pos+n])
			if kind == matchNone {
				continue
			}
			m := phraseMatch{phrase: cp, kind: kind, score: score, pos: pos}
			if cp.cfg.Parameter != "" {
				m.param = joinOrig(toks[pos+n:])
				if m.param == "" {
					continue
				}
			}
			if m.better(best) {
				best = m
			}
		}
	}
	return best
}

// scoreWindow classifies one aligned window of transcript words against cp.
func (p *PhraseInterpreter) scoreWindow(cp *compiledPhrase, words []string, codes []map[string]struct{}) (matchKind, float64) {
	exact := true
	aligned := true
	for i, w := range words {
		if w != cp.tokens[i] {
			exact = false
		}
		if !codesOverlap(codes[i], cp.codes[i]) {
			aligned = false
		}
	}
	if exact {
		return matchExact, 1
	}

	score := jwScore(words, cp)
	switch {
	case aligned && score >= p.phoneticThreshold:
		return matchPhonetic, score
	case score >= p.fuzzyThreshold:
		return matchFuzzy, score
	}
	return matchNone, 0
}

// jwScore is the higher Jaro-Winkler similarity of the space-joined and the
// concatenated forms, so that "navi gate" still scores well against
// "navigate".
func jwScore(words []string, cp *compiledPhrase) float64 {
	full := strings.Join(words, " ")
	score := matchr.JaroWinkler(full, cp.joined, false)
	concat := strings.Join(words, "")
	if s := matchr.JaroWinkler(concat, strings.Join(cp.tokens, ""), false); s > score {
		score = s
	}
	return score
}

// tokenize splits s into words, dropping punctuation. Letters and digits are
// kept in any script.
func tokenize(s string) []token {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	out := make([]token, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		if f == "" {
			continue
		}
		out = append(out, token{norm: strings.ToLower(f), orig: f})
	}
	return out
}

func joinOrig(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.orig
	}
	return strings.Join(parts, " ")
}

// metaphoneCodes returns the non-empty Double Metaphone codes of word. Words
// without consonants code to themselves so that short vowels can still align.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	primary, secondary := matchr.DoubleMetaphone(word)
	if primary != "" {
		codes[primary] = struct{}{}
	}
	if secondary != "" {
		codes[secondary] = struct{}{}
	}
	if len(codes) == 0 {
		codes[word] = struct{}{}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

var _ Interpreter = (*PhraseInterpreter)(nil)
