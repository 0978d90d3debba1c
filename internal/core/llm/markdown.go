package llm

import "strings"

const (
	fence         = "```"
	markdownFence = "```markdown"
)

// ExtractMarkdown strips a fenced wrapper from model output. A fence labeled
// markdown wins over a generic one; text without a closed fence is returned as is.
func ExtractMarkdown(raw string) string {
	if start := strings.Index(raw, markdownFence); start >= 0 {
		body := raw[start+len(markdownFence):]
		if end := strings.Index(body, fence); end >= 0 {
			return strings.TrimSpace(body[:end])
		}
		return raw
	}

	start := strings.Index(raw, fence)
	if start < 0 {
		return raw
	}
	body := raw[start+len(fence):]
	// skip the info string, e.g. ```md
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.Index(body, fence); end >= 0 {
		return strings.TrimSpace(body[:end])
	}
	return raw
}
