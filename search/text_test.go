package search

import (
	"testing"

	"github.com/poiesic/knowmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnhanceQuery(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		sc         core.SearchContext
		want       string
		wantIntent Intent
	}{
		{"plain", "  search   mesh ", core.SearchContext{}, "search mesh", IntentNone},
		{"detected debug intent", "fix login crash", core.SearchContext{},
			"fix login crash error troubleshooting fix", IntentDebug},
		{"explicit intent wins", "login flow", core.SearchContext{Intent: "Learn"},
			"login flow documentation explanation", IntentLearn},
		{"active files and recent queries", "auth", core.SearchContext{
			ActiveFiles:   []string{"/src/auth/session.go", "README.md"},
			RecentQueries: []string{"old", "tokens", "auth", "refresh"},
		}, "auth session README refresh", IntentNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, intent := enhanceQuery(tt.query, tt.sc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantIntent, intent)
		})
	}
}

func TestSnippet(t *testing.T) {
	content := "Intro line\nThe cache stores vectors. Vectors expire after a week! Unrelated?"
	got, hl := snippet(content, "when do vectors expire", 240)
	assert.Equal(t, "Vectors expire after a week!", got)
	require.Len(t, hl, 2)
	assert.Equal(t, core.Highlight{Start: 0, End: 7}, hl[0])
	assert.Equal(t, core.Highlight{Start: 8, End: 14}, hl[1])

	got, _ = snippet("héllo wörld and more text", "nothing", 8)
	assert.Equal(t, "héllo w", got)

	got, hl = snippet("", "anything", 10)
	assert.Empty(t, got)
	assert.Empty(t, hl)
}
