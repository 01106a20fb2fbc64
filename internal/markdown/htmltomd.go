// Package markdown converts pasted HTML into the Markdown dialect used for
// agent instructions. It is intentionally lossy: layout markup is dropped and
// only the structural elements that matter for a prompt survive.
package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	reComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	reScript  = regexp.MustCompile(`(?is)<(script|style|head)\b.*?</(script|style|head)>`)
	reHeading = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	reBold    = regexp.MustCompile(`(?is)<(?:strong|b)[^>]*>(.*?)</(?:strong|b)>`)
	reItalic  = regexp.MustCompile(`(?is)<(?:em|i)[^>]*>(.*?)</(?:em|i)>`)
	reAnchor  = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	rePre     = regexp.MustCompile(`(?is)<pre[^>]*>(?:<code[^>]*>)?(.*?)(?:</code>)?</pre>`)
	reCode    = regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`)
	reListOpen = regexp.MustCompile(`(?i)<(ul|ol)[^>]*>`)
	reListItem = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	reBreak   = regexp.MustCompile(`(?i)<br\s*/?>`)
	reParaEnd = regexp.MustCompile(`(?i)</(p|div|ul|ol|blockquote|h[1-6]|pre|table|tr)>`)
	reTag     = regexp.MustCompile(`(?s)<[^>]+>`)
	reBlank   = regexp.MustCompile(`\n{3,}`)
	reSpaces  = regexp.MustCompile(`[ \t]+\n`)
)

// Convert turns an HTML fragment into Markdown. Input that is already plain
// text passes through unchanged apart from whitespace normalization.
func Convert(input string) string {
	s := reComment.ReplaceAllString(input, "")
	s = reScript.ReplaceAllString(s, "")

	s = reHeading.ReplaceAllStringFunc(s, func(match string) string {
		groups := reHeading.FindStringSubmatch(match)
		level := int(groups[1][0] - '0')
		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(groups[2]) + "\n"
	})

	s = rePre.ReplaceAllStringFunc(s, func(match string) string {
		groups := rePre.FindStringSubmatch(match)
		return "\n```\n" + strings.TrimSpace(html.UnescapeString(groups[1])) + "\n```\n"
	})
	s = reCode.ReplaceAllString(s, "`$1`")

	s = reBold.ReplaceAllString(s, "**$1**")
	s = reItalic.ReplaceAllString(s, "*$1*")
	s = reAnchor.ReplaceAllStringFunc(s, func(match string) string {
		groups := reAnchor.FindStringSubmatch(match)
		return fmt.Sprintf("[%s](%s)", strings.TrimSpace(groups[2]), groups[1])
	})

	s = reListOpen.ReplaceAllString(s, "\n")
	s = reListItem.ReplaceAllString(s, "- $1\n")

	s = reBreak.ReplaceAllString(s, "\n")
	s = reParaEnd.ReplaceAllString(s, "\n\n")
	s = reTag.ReplaceAllString(s, "")

	s = html.UnescapeString(s)
	s = reSpaces.ReplaceAllString(s, "\n")
	s = reBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
