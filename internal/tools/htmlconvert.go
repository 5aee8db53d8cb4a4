package tools

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// extractJSON pretty-prints a JSON response body for web_fetch's json
// branch. A body that fails to parse is returned verbatim.
func extractJSON(body []byte) (string, string) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body), "raw"
	}
	formatted, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return string(body), "raw"
	}
	return string(formatted), "json"
}

// htmlRule is one regex substitution in a conversion pipeline.
type htmlRule struct {
	pattern *regexp.Regexp
	replace string
}

// htmlConverter turns HTML fetched by web_fetch into markdown or plain
// text. It's regex-based rather than a real DOM parser — good enough for
// the article/blog markup web_fetch is pointed at, not a Readability
// clone.
type htmlConverter struct {
	noise      []*regexp.Regexp
	heading    *regexp.Regexp
	blockquote *regexp.Regexp
	markdown   []htmlRule
	paragraph  *regexp.Regexp
	listItem   *regexp.Regexp
	lineBreak  *regexp.Regexp
	anyTag     *regexp.Regexp
	multiNL    *regexp.Regexp
	multiSP    *regexp.Regexp
	entities   *strings.Replacer
}

func newHTMLConverter() *htmlConverter {
	return &htmlConverter{
		noise: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script.*?</script>`),
			regexp.MustCompile(`(?is)<style.*?</style>`),
			regexp.MustCompile(`(?s)<!--.*?-->`),
			regexp.MustCompile(`(?is)<nav.*?</nav>`),
			regexp.MustCompile(`(?is)<footer.*?</footer>`),
		},
		heading:    regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`),
		blockquote: regexp.MustCompile(`(?is)<blockquote[^>]*>(.*?)</blockquote>`),
		markdown: []htmlRule{
			{regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`), "\n```\n$1\n```\n"},
			{regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`), "`$1`"},
			{regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`), "[$2]($1)"},
			{regexp.MustCompile(`(?is)<img[^>]*alt="([^"]*)"[^>]*/?>`), "![$1]"},
			{regexp.MustCompile(`(?is)<img[^>]*/?>`), "![image]"},
			{regexp.MustCompile(`(?is)<(?:strong|b)[^>]*>(.*?)</(?:strong|b)>`), "**$1**"},
			{regexp.MustCompile(`(?is)<(?:em|i)[^>]*>(.*?)</(?:em|i)>`), "*$1*"},
		},
		paragraph: regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`),
		listItem:  regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`),
		lineBreak: regexp.MustCompile(`(?i)<br\s*/?>`),
		anyTag:    regexp.MustCompile(`<[^>]+>`),
		multiNL:   regexp.MustCompile(`\n{3,}`),
		multiSP:   regexp.MustCompile(`[ \t]{2,}`),
		entities: strings.NewReplacer(
			"&amp;", "&",
			"&lt;", "<",
			"&gt;", ">",
			"&quot;", `"`,
			"&#39;", "'",
			"&apos;", "'",
			"&nbsp;", " ",
			"&mdash;", "—",
			"&ndash;", "–",
			"&bull;", "•",
			"&hellip;", "...",
			"&copy;", "(c)",
			"&reg;", "(R)",
			"&trade;", "(TM)",
			"&laquo;", "\"",
			"&raquo;", "\"",
		),
	}
}

// defaultHTMLConverter is shared across calls; the compiled rule tables
// carry no per-request state.
var defaultHTMLConverter = newHTMLConverter()

func (c *htmlConverter) stripNoise(html string) string {
	for _, re := range c.noise {
		html = re.ReplaceAllString(html, "")
	}
	return html
}

// convertHeadings rewrites <h1>..<h6> to the matching count of #, reading
// the level off the captured digit rather than one regex per level.
func (c *htmlConverter) convertHeadings(html string) string {
	return c.heading.ReplaceAllStringFunc(html, func(match string) string {
		groups := c.heading.FindStringSubmatch(match)
		level, err := strconv.Atoi(groups[1])
		if err != nil || level < 1 || level > 6 {
			return match
		}
		return "\n" + strings.Repeat("#", level) + " " + groups[2] + "\n"
	})
}

// convertBlockquotes prefixes every line of a <blockquote> body with "> ".
func (c *htmlConverter) convertBlockquotes(html string) string {
	return c.blockquote.ReplaceAllStringFunc(html, func(match string) string {
		groups := c.blockquote.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(groups[1]), "\n")
		for i, l := range lines {
			lines[i] = "> " + strings.TrimSpace(l)
		}
		return "\n" + strings.Join(lines, "\n") + "\n"
	})
}

func (c *htmlConverter) finish(html string) string {
	html = c.anyTag.ReplaceAllString(html, "")
	html = c.entities.Replace(html)
	html = c.multiSP.ReplaceAllString(html, " ")
	html = c.multiNL.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

// htmlToMarkdown converts html to a rough markdown rendering: headings,
// emphasis, links, images, lists, and fenced code survive; everything
// else collapses to plain text.
func htmlToMarkdown(html string) string {
	c := defaultHTMLConverter
	s := c.stripNoise(html)
	s = c.convertHeadings(s)
	s = c.convertBlockquotes(s)
	for _, rule := range c.markdown {
		s = rule.pattern.ReplaceAllString(s, rule.replace)
	}
	s = c.paragraph.ReplaceAllString(s, "\n$1\n")
	s = c.lineBreak.ReplaceAllString(s, "\n")
	s = c.listItem.ReplaceAllString(s, "\n- $1")
	return c.finish(s)
}

var headerTag = regexp.MustCompile(`(?is)<header.*?</header>`)

// htmlToText strips html to bare paragraphs and list items, one per
// output line; list items keep a "- " prefix, and no other markdown is
// produced.
func htmlToText(html string) string {
	c := defaultHTMLConverter
	s := c.stripNoise(html)
	s = headerTag.ReplaceAllString(s, "")
	s = c.paragraph.ReplaceAllString(s, "\n$1\n")
	s = c.lineBreak.ReplaceAllString(s, "\n")
	s = c.listItem.ReplaceAllString(s, "\n- $1")
	s = c.finish(s)

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
