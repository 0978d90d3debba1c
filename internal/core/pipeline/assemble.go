package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// PageResult is the extracted markdown for one page.
type PageResult struct {
	Index    int
	Markdown string
}

// PageMarker is the human-readable separator that precedes each page.
func PageMarker(index int) string {
	return fmt.Sprintf("---\n**Page %d**\n---", index)
}

// Assemble concatenates results in page-index order regardless of the order
// they are given in.
func Assemble(results []PageResult) string {
	sorted := make([]PageResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	blocks := make([]string, 0, len(sorted))
	for _, r := range sorted {
		blocks = append(blocks, PageMarker(r.Index)+"\n\n"+r.Markdown)
	}
	return strings.Join(blocks, "\n\n")
}
