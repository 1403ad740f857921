package extractor

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Pre-compile regex patterns to avoid recompilation overhead
var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t\p{Zs}]{2,}`)
)

// boilerplate elements never contribute page text
var boilerplate = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true, "svg": true,
	"nav": true, "footer": true, "header": true, "aside": true, "form": true,
	"template": true, "button": true, "select": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"ul": true, "ol": true, "table": true, "tr": true, "blockquote": true,
	"pre": true, "dl": true, "dd": true, "dt": true, "figure": true, "figcaption": true,
}

type htmlPage struct {
	title    string
	text     string
	headings []Heading
	links    []string
}

// parseHTML extracts readable text with "#" header markers and the same-site links
func parseHTML(body []byte, base *url.URL) (*htmlPage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	page := &htmlPage{}
	seen := make(map[string]bool)
	var root *html.Node
	var bodyNode *html.Node

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if page.title == "" {
					page.title = collapseSpace(nodeText(n))
				}
			case "main":
				if root == nil {
					root = n
				}
			case "article":
				if root == nil {
					root = n
				}
			case "body":
				bodyNode = n
			case "a":
				if link, ok := resolveLink(base, getAttr(n, "href")); ok && !seen[link] {
					seen[link] = true
					page.links = append(page.links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if root == nil {
		root = bodyNode
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	page.headings = renderText(root, &sb, 0)
	page.text = cleanMarkdown(sb.String())
	return page, nil
}

// renderText writes the readable text under n and returns the headings found
func renderText(n *html.Node, sb *strings.Builder, depth int) []Heading {
	if depth > 200 {
		return nil
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
		return nil
	case html.ElementNode:
		if boilerplate[n.Data] {
			return nil
		}
		if level := headingLevel(n.Data); level > 0 {
			text := collapseSpace(nodeText(n))
			if text == "" {
				return nil
			}
			sb.WriteString("\n\n")
			sb.WriteString(strings.Repeat("#", level))
			sb.WriteString(" ")
			sb.WriteString(text)
			sb.WriteString("\n\n")
			return []Heading{{Level: level, Text: text}}
		}
		switch n.Data {
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "td", "th":
			sb.WriteString(" | ")
		case "img":
			if alt := strings.TrimSpace(getAttr(n, "alt")); alt != "" {
				sb.WriteString(alt)
				sb.WriteString(" ")
			}
			return nil
		default:
			if blockElements[n.Data] {
				sb.WriteString("\n\n")
			}
		}
	}

	var headings []Heading
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		headings = append(headings, renderText(c, sb, depth+1)...)
	}

	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteString("\n\n")
	}
	return headings
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// nodeText concatenates all text below n
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanMarkdown removes excessive whitespace
func cleanMarkdown(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
