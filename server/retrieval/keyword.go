package retrieval

import (
	"sort"
	"strings"

	"github.com/hrygo/recall/store"
)

// MatchKeywords scores candidates by the fraction of query terms that occur
// in the conversation's searchable text (title, description, summary and
// key points). Scores are in [0, 1]. Candidates that match nothing are kept
// with a score of 0 so the fallback path always returns every candidate; it
// degrades, it never fails.
//
// The sort is stable: equal scores keep the candidates' input order.
func MatchKeywords(query string, candidates []*store.Conversation) []RankedConversation {
	terms := queryTerms(query)

	ranked := make([]RankedConversation, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, RankedConversation{
			Conversation: c,
			Score:        keywordScore(terms, searchableText(c)),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked
}

// queryTerms lowercases the query and splits it on whitespace, dropping
// duplicate terms so repeated words do not skew the fraction.
func queryTerms(query string) []string {
	seen := map[string]bool{}
	terms := []string{}
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

func keywordScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}

	matched := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			matched++
		}
	}

	return float64(matched) / float64(len(terms))
}

func searchableText(c *store.Conversation) string {
	parts := []string{c.Title, c.Description}
	if c.Summary != nil {
		parts = append(parts, *c.Summary)
	}
	parts = append(parts, c.KeyPoints...)
	return strings.ToLower(strings.Join(parts, "\n"))
}
