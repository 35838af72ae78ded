package classify

import (
	"math"
	"sort"
	"strings"

	"github.com/yoockh/dmcommerce/internal/utils"
)

const PatternProductRequest = "product_request"

// BehaviorMatch is the winning behavior pattern for a message.
type BehaviorMatch struct {
	Pattern    string   `json:"pattern"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Keywords   []string `json:"keywords,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type behaviorCandidate struct {
	score    float64
	pattern  string
	matched  []string
	tagHits  []string
	priority int
}

// DetectBehavior scores every pattern against text and returns the best one.
// Equal scores go to the pattern listed first in the priority table. The
// second return is false when nothing reaches minConfidence.
func (c *Classifier) DetectBehavior(text string, minConfidence float64) (BehaviorMatch, bool) {
	normalized := utils.NormalizeText(text)
	if normalized == "" {
		return BehaviorMatch{}, false
	}

	prio := map[string]int{}
	for i, p := range c.rules.Behavior.Priority {
		prio[p] = i
	}
	rank := func(p string) int {
		if i, ok := prio[p]; ok {
			return i
		}
		return 99
	}

	var cands []behaviorCandidate
	for _, r := range c.rules.Behavior.Rules {
		matched := utils.Hits(normalized, r.Keywords)
		if len(matched) == 0 {
			continue
		}
		cands = append(cands, behaviorCandidate{
			score:    math.Min(1, r.Base+0.1*float64(len(matched))),
			pattern:  r.Name,
			matched:  matched,
			priority: rank(r.Name),
		})
	}

	tags := c.InferTags(normalized)
	hits := tags.Hits()
	if len(hits) > 0 || len(tags.Brands) > 0 {
		cands = append(cands, behaviorCandidate{
			score:    math.Min(1, 0.45+0.08*float64(len(hits))+0.1*float64(len(tags.Brands))),
			pattern:  PatternProductRequest,
			matched:  tags.Brands,
			tagHits:  hits,
			priority: rank(PatternProductRequest),
		})
	}
	if len(cands) == 0 {
		return BehaviorMatch{}, false
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if math.Abs(cands[i].score-cands[j].score) < 1e-6 {
			return cands[i].priority < cands[j].priority
		}
		return cands[i].score > cands[j].score
	})
	best := cands[0]
	if best.score < minConfidence {
		return BehaviorMatch{}, false
	}

	parts := append([]string{}, best.matched...)
	for _, t := range best.tagHits {
		parts = append(parts, "tag:"+t)
	}
	reason := "keyword_match"
	if len(parts) > 0 {
		if len(parts) > 10 {
			parts = parts[:10]
		}
		reason = strings.Join(parts, ", ")
	}
	return BehaviorMatch{
		Pattern:    best.pattern,
		Confidence: math.Round(best.score*100) / 100,
		Reason:     reason,
		Keywords:   best.matched,
		Tags:       best.tagHits,
	}, true
}

// SummarizeBehaviors counts detected patterns across texts and returns the
// last recentLimit matches.
func (c *Classifier) SummarizeBehaviors(texts []string, minConfidence float64, recentLimit int) (map[string]int, []BehaviorMatch) {
	counts := map[string]int{}
	var recent []BehaviorMatch
	for _, t := range texts {
		m, ok := c.DetectBehavior(t, minConfidence)
		if !ok {
			continue
		}
		counts[m.Pattern]++
		recent = append(recent, m)
	}
	if recentLimit > 0 && len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
	return counts, recent
}
