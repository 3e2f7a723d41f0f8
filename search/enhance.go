package search

import (
	"path/filepath"
	"strings"

	"github.com/poiesic/knowmesh/core"
)

// Intent is the purpose detected behind a query.
type Intent string

const (
	IntentNone      Intent = ""
	IntentDebug     Intent = "debug"
	IntentImplement Intent = "implement"
	IntentLearn     Intent = "learn"
	IntentReview    Intent = "review"
)

var intentKeywords = map[Intent][]string{
	IntentDebug:     {"bug", "error", "fix", "crash", "fail", "failing", "broken", "exception", "debug", "panic"},
	IntentImplement: {"implement", "add", "build", "create", "write", "support"},
	IntentLearn:     {"how", "what", "why", "explain", "understand", "learn", "guide"},
	IntentReview:    {"review", "refactor", "improve", "optimize", "cleanup", "performance"},
}

// Detection order; the first intent with a matching keyword wins.
var intentOrder = []Intent{IntentDebug, IntentImplement, IntentReview, IntentLearn}

var intentExpansions = map[Intent]string{
	IntentDebug:     "error troubleshooting fix",
	IntentImplement: "implementation example",
	IntentLearn:     "documentation explanation",
	IntentReview:    "design best practices",
}

// recentQueryHints is how many recent queries are folded into the query.
const recentQueryHints = 2

func detectIntent(query string) Intent {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		words[strings.Trim(w, ".,!?;:'\"-()[]{}")] = true
	}
	for _, intent := range intentOrder {
		for _, kw := range intentKeywords[intent] {
			if words[kw] {
				return intent
			}
		}
	}
	return IntentNone
}

// enhanceQuery folds the caller's context into the query text: intent
// expansion terms, the names of the active files and the latest recent
// queries. A query with no context is returned normalized but unchanged.
func enhanceQuery(query string, sc core.SearchContext) (string, Intent) {
	query = core.NormalizeText(query)
	intent := Intent(strings.ToLower(strings.TrimSpace(sc.Intent)))
	if intent == IntentNone {
		intent = detectIntent(query)
	}

	parts := []string{query}
	if exp, ok := intentExpansions[intent]; ok {
		parts = append(parts, exp)
	}
	for _, f := range sc.ActiveFiles {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		if name != "" && name != "." && name != string(filepath.Separator) {
			parts = append(parts, name)
		}
	}
	recent := sc.RecentQueries
	if len(recent) > recentQueryHints {
		recent = recent[len(recent)-recentQueryHints:]
	}
	for _, q := range recent {
		if q = core.NormalizeText(q); q != "" && q != query {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, " "), intent
}
