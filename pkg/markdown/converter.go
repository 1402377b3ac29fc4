// Package markdown renders model replies, which arrive as markdown, into the
// HTML subset Telegram accepts.
package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe = regexp.MustCompile(`<p>(?s)(.*?)</p>`)
	headingRe   = regexp.MustCompile(`<h[1-6]>(?s)(.*?)</h[1-6]>`)
	codeBlockRe = regexp.MustCompile(`<pre><code(?: class="[^"]*")?>(?s)(.*?)</code></pre>`)
	anyTagRe    = regexp.MustCompile(`</?([a-zA-Z]+)(?:\s[^>]*)?>`)
	tagNameRe   = regexp.MustCompile(`</?([a-zA-Z]+)`)
	newlinesRe  = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram renders; everything else is stripped.
var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true,
	"code": true, "pre": true, "a": true, "br": true,
}

// ToTelegramHTML converts a markdown reply to Telegram-compatible HTML.
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanForTelegram(html)
}

func cleanForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")
	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")

	replacer := strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<blockquote>", "", "</blockquote>", "",
		"<ul>", "", "</ul>", "",
		"<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>", "\n",
		"<hr>", "\n", "<hr/>", "\n",
	)
	html = replacer.Replace(html)

	html = anyTagRe.ReplaceAllStringFunc(html, func(match string) string {
		if m := tagNameRe.FindStringSubmatch(match); len(m) > 1 && supportedTags[strings.ToLower(m[1])] {
			return match
		}
		return ""
	})

	html = newlinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
