package openai

import "fmt"

const taggingResponseSchema = `{
  "type": "object",
  "properties": {
    "tags": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "tag": {
            "type": "string",
            "pattern": "^[a-z0-9]+( [a-z0-9]+)*$"
          },
          "importance": {
            "type": "integer",
            "minimum": 1,
            "maximum": 10
          }
        },
        "required": ["tag", "importance"],
        "additionalProperties": false
      }
    }
  },
  "required": ["tags"],
  "additionalProperties": false
}`

const taggingPromptTemplate = `Identify the main topics of the given document and return them as JSON tags.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Tags must be lowercase, 1-3 words, singular form only.
- Prefer concrete technical subjects (libraries, protocols, components, domains) over generic words such as "document" or "note".
- Importance is an integer from 1 (barely mentioned) to 10 (the document is about this).
- Include only topics that are explicitly discussed in the document. Do not hallucinate.
- Return at most 12 tags. If no topics can be identified, return "tags": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "Badger compaction stalls when the value log grows faster than GC can reclaim it. Tune ValueLogFileSize."
Output:
{
  "tags": [
    {"tag":"badger","importance":10},
    {"tag":"compaction","importance":9},
    {"tag":"value log","importance":8},
    {"tag":"garbage collection","importance":6}
  ]
}

Example (informal note):
Input: "todo: ask sam about the rate limiter on the search api"
Output:
{
  "tags": [
    {"tag":"rate limiting","importance":8},
    {"tag":"search api","importance":7}
  ]
}`

func buildSystemPrompt() string {
	return fmt.Sprintf(taggingPromptTemplate, taggingResponseSchema)
}
