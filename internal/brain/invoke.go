package brain

import (
	"encoding/json"
	"regexp"
)

// invokePattern matches exactly one <invoke name="X">PAYLOAD</invoke> tag
// (spec §4.5 step 7). (?s) lets PAYLOAD span newlines.
var invokePattern = regexp.MustCompile(`(?s)<invoke name="([^"]+)">(.*?)</invoke>`)

// invocation is one parsed <invoke> tag.
type invocation struct {
	Name string
	Args []string
}

// parseInvoke finds the first <invoke> tag in text, if any. The spec
// requires at most one per response; a second tag in the same response is
// ignored (the model is instructed not to emit more than one, and only the
// first is ever acted on).
func parseInvoke(text string) (invocation, bool) {
	m := invokePattern.FindStringSubmatch(text)
	if m == nil {
		return invocation{}, false
	}
	return invocation{Name: m[1], Args: parsePayload(m[2])}, true
}

// parsePayload tries PAYLOAD as a JSON array of strings; on any failure the
// raw payload becomes a single-element list (spec §4.5 step 7).
func parsePayload(payload string) []string {
	var args []string
	if err := json.Unmarshal([]byte(payload), &args); err == nil {
		return args
	}
	return []string{payload}
}

// stripInvokeTags removes any <invoke>...</invoke> tags from a skill's
// output before it is folded back into loop context, so a skill cannot
// smuggle a second invocation into the model's next turn (spec §4.5 step 7,
// "prompt-injection defense").
func stripInvokeTags(s string) string {
	return invokePattern.ReplaceAllString(s, "")
}
