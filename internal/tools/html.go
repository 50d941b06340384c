package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reScript    = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle     = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reTags      = regexp.MustCompile(`<[^>]+>`)
	reSpaces    = regexp.MustCompile(`[ \t]+`)
	reNewlines  = regexp.MustCompile(`\n{3,}`)
	reLinks     = regexp.MustCompile(`(?is)<a\s+[^>]*href=["']([^"']+)["'][^>]*>([\s\S]*?)</a>`)
	reHeadings  = regexp.MustCompile(`(?is)<h([1-6])[^>]*>([\s\S]*?)</h[1-6]>`)
	reListItems = regexp.MustCompile(`(?is)<li[^>]*>([\s\S]*?)</li>`)
	reBlockEnd  = regexp.MustCompile(`(?is)</(p|div|section|article)>`)
	reLineBreak = regexp.MustCompile(`(?is)<(br|hr)\s*/?>`)
)

// stripHTMLTags removes all HTML tags and normalizes whitespace.
func stripHTMLTags(text string) string {
	text = reScript.ReplaceAllString(text, "")
	text = reStyle.ReplaceAllString(text, "")
	text = reTags.ReplaceAllString(text, "")
	return normalizeWhitespace(text)
}

// htmlToMarkdown converts HTML to a simple markdown representation.
func htmlToMarkdown(htmlText string) string {
	text := reLinks.ReplaceAllStringFunc(htmlText, func(m string) string {
		parts := reLinks.FindStringSubmatch(m)
		if len(parts) < 3 {
			return m
		}
		return fmt.Sprintf("[%s](%s)", stripHTMLTags(parts[2]), parts[1])
	})
	text = reHeadings.ReplaceAllStringFunc(text, func(m string) string {
		parts := reHeadings.FindStringSubmatch(m)
		if len(parts) < 3 {
			return m
		}
		level, _ := strconv.Atoi(parts[1])
		return fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), stripHTMLTags(parts[2]))
	})
	text = reListItems.ReplaceAllStringFunc(text, func(m string) string {
		parts := reListItems.FindStringSubmatch(m)
		if len(parts) < 2 {
			return m
		}
		return "\n- " + stripHTMLTags(parts[1])
	})
	text = reBlockEnd.ReplaceAllString(text, "\n\n")
	text = reLineBreak.ReplaceAllString(text, "\n")
	return normalizeWhitespace(stripHTMLTags(text))
}

func normalizeWhitespace(text string) string {
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
