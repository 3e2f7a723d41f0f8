package openai

import (
	"regexp"
	"strings"
)

var (
	// `{ tag":` or `, importance":` where the model dropped the opening quote.
	missingOpenQuote = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z_ ]*)":`)
	// `{tag:` or `, importance :` with no quotes at all.
	bareKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z_]*)\s*:`)
	// `,]` or `, }`
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// repairJSON fixes the formatting mistakes chat models commonly make when
// asked for JSON: markdown code fences, keys missing one or both quotes and
// trailing commas.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	s = missingOpenQuote.ReplaceAllStringFunc(s, func(m string) string {
		sub := missingOpenQuote.FindStringSubmatch(m)
		return sub[1] + `"` + strings.TrimSpace(sub[2]) + `":`
	})
	s = bareKey.ReplaceAllString(s, `$1"$2":`)
	s = trailingComma.ReplaceAllString(s, "$1")
	return s
}
