package retrieval

import (
	"fmt"
	"strings"
)

// Render produces the markdown form of a response, the text handed to an
// agent as its memory context.
func Render(resp *Response) string {
	if resp == nil || len(resp.Categories) == 0 {
		return ""
	}

	var b strings.Builder
	for _, block := range resp.Categories {
		b.WriteString(RenderBlock(block))
	}
	return b.String()
}

// RenderBlock renders one category block. Truncation measures blocks in this
// rendered form, so the budget applies to what callers actually receive.
func RenderBlock(block CategoryBlock) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", block.Name)
	if block.Summary != "" {
		b.WriteString(block.Summary)
		b.WriteString("\n")
	}
	if len(block.Items) > 0 {
		b.WriteString("\n")
		for _, item := range block.Items {
			fmt.Fprintf(&b, "- %s (confidence %.2f)\n", item.Fact.Text(), item.Fact.Confidence)
		}
	}
	b.WriteString("\n")
	return b.String()
}
