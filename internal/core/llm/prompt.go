package llm

import "strings"

// TranscriptionPrompt is the fixed instruction sent with every page.
var TranscriptionPrompt = strings.Join([]string{
	"Convert this handwritten note/document to markdown format.",
	"",
	"Instructions:",
	"- Extract ALL text accurately, including handwritten notes",
	"- Preserve mathematical equations in LaTeX format (use $...$ for inline and $$...$$ for block equations). " +
		"They must render as real markdown math, never as code",
	"- Maintain proper heading hierarchy with #, ##, ###",
	"- Use lists (- or 1.) where appropriate",
	"- Preserve tables in markdown table format",
	"- Keep the formatting clean and readable",
	"- If there are diagrams, describe them in [Image: description] format",
	"",
	"Return ONLY the markdown content, no explanations.",
}, "\n")
