package summarize

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

// BeamGenerator is a local, deterministic extractive summarizer. It splits
// the text into sentence units and beam-searches in-order unit selections,
// scoring each hypothesis by weighted term coverage damped by a length
// penalty:
//
//	score = coverage / (1 + (tokens/MaxOutputTokens)^LengthPenalty)
//
// Only hypotheses with at least MinOutputTokens tokens can finish. Ties
// break on unit indices, so identical input always yields identical output.
type BeamGenerator struct{}

func (BeamGenerator) Name() string { return "beam" }

type unit struct {
	text   string
	tokens int
	terms  []string
}

type hypothesis struct {
	units    []int
	tokens   int
	coverage float64
	score    float64
	covered  map[string]struct{}
}

type candidate struct {
	parent   *hypothesis
	next     int
	tokens   int
	coverage float64
	score    float64
}

func (BeamGenerator) Generate(ctx context.Context, text string, p DecodeParams) (string, error) {
	p = p.withDefaults()
	units := splitUnits(text, p.MaxOutputTokens)
	if len(units) == 0 {
		return "", ErrEmptyInput
	}
	weights, total := termWeights(units)

	score := func(coverage float64, tokens int) float64 {
		ratio := float64(tokens) / float64(p.MaxOutputTokens)
		return coverage / (1 + math.Pow(ratio, p.LengthPenalty))
	}

	beams := []*hypothesis{{covered: map[string]struct{}{}}}
	var best *hypothesis
	for len(beams) > 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var cands []candidate
		for _, b := range beams {
			start := 0
			if n := len(b.units); n > 0 {
				start = b.units[n-1] + 1
			}
			for j := start; j < len(units); j++ {
				tokens := b.tokens + units[j].tokens
				if tokens > p.MaxOutputTokens {
					continue
				}
				gain := 0.0
				seen := map[string]struct{}{}
				for _, t := range units[j].terms {
					if _, ok := b.covered[t]; ok {
						continue
					}
					if _, ok := seen[t]; ok {
						continue
					}
					seen[t] = struct{}{}
					gain += weights[t]
				}
				coverage := b.coverage + gain/total
				cands = append(cands, candidate{
					parent:   b,
					next:     j,
					tokens:   tokens,
					coverage: coverage,
					score:    score(coverage, tokens),
				})
			}
		}
		if len(cands) == 0 {
			break
		}
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].score != cands[j].score {
				return cands[i].score > cands[j].score
			}
			return lessIndices(cands[i].indices(), cands[j].indices())
		})
		if len(cands) > p.NumBeams {
			cands = cands[:p.NumBeams]
		}

		improved := best == nil
		next := make([]*hypothesis, 0, len(cands))
		for _, c := range cands {
			h := c.materialize(units)
			next = append(next, h)
			if h.tokens < p.MinOutputTokens {
				continue
			}
			if best == nil || h.score > best.score {
				best = h
				improved = true
			}
		}
		if p.EarlyStopping && best != nil && !improved {
			break
		}
		beams = next
	}

	if best == nil {
		// Nothing reached MinOutputTokens: the text itself is shorter
		// than the minimum, so return it whole within the output bound.
		words := strings.Fields(text)
		if len(words) > p.MaxOutputTokens {
			words = words[:p.MaxOutputTokens]
		}
		return strings.Join(words, " "), nil
	}
	parts := make([]string, 0, len(best.units))
	for _, i := range best.units {
		parts = append(parts, units[i].text)
	}
	return strings.Join(parts, " "), nil
}

func (c candidate) indices() []int {
	out := make([]int, 0, len(c.parent.units)+1)
	out = append(out, c.parent.units...)
	return append(out, c.next)
}

func (c candidate) materialize(units []unit) *hypothesis {
	covered := make(map[string]struct{}, len(c.parent.covered)+len(units[c.next].terms))
	for t := range c.parent.covered {
		covered[t] = struct{}{}
	}
	for _, t := range units[c.next].terms {
		covered[t] = struct{}{}
	}
	return &hypothesis{
		units:    c.indices(),
		tokens:   c.tokens,
		coverage: c.coverage,
		score:    c.score,
		covered:  covered,
	}
}

func lessIndices(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// splitUnits cuts text at sentence punctuation; sentences longer than
// maxTokens are chunked so every unit fits an output on its own.
func splitUnits(text string, maxTokens int) []unit {
	var out []unit
	var cur []string
	flush := func() {
		for len(cur) > 0 {
			n := len(cur)
			if n > maxTokens {
				n = maxTokens
			}
			chunk := cur[:n]
			out = append(out, unit{
				text:   strings.Join(chunk, " "),
				tokens: len(chunk),
				terms:  contentTerms(chunk),
			})
			cur = cur[n:]
		}
		cur = nil
	}
	for _, w := range strings.Fields(text) {
		cur = append(cur, w)
		if endsSentence(w) {
			flush()
		}
	}
	flush()
	return out
}

func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `"')]}`)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ';':
		return true
	}
	return false
}

func normalizeTerm(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

func contentTerms(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		t := normalizeTerm(w)
		if len(t) < 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// termWeights counts content-term frequency across the document. If the
// text is all stopwords, every unit token counts as a term.
func termWeights(units []unit) (map[string]float64, float64) {
	weights := map[string]float64{}
	total := 0.0
	for _, u := range units {
		for _, t := range u.terms {
			weights[t]++
			total++
		}
	}
	if total > 0 {
		return weights, total
	}
	for i := range units {
		words := strings.Fields(units[i].text)
		terms := make([]string, 0, len(words))
		for _, w := range words {
			t := normalizeTerm(w)
			if t == "" {
				continue
			}
			terms = append(terms, t)
			weights[t]++
			total++
		}
		units[i].terms = terms
	}
	if total == 0 {
		total = 1
	}
	return weights, total
}

var stopwords = func() map[string]struct{} {
	list := strings.Fields(`a an and are as at be been but by can could did do does for from had has have
		he her his i if in into is it its me my no not of on or our she so than that the their them then there
		these they this to too us was we were what when where which who will with would you your`)
	m := make(map[string]struct{}, len(list))
	for _, w := range list {
		m[w] = struct{}{}
	}
	return m
}()
