package fetch

import (
	"bytes"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

const readabilityMinWords = 50

// extractContent runs readability and renders the article as markdown,
// falling back to a DOM walk when the article is too short.
func extractContent(data []byte, pageURL string) (title, content string) {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
	if err == nil && article.Node != nil {
		md, mdErr := htmltomarkdown.ConvertNode(article.Node)
		if mdErr == nil {
			text := normalizeContent(string(md))
			if len(strings.Fields(text)) >= readabilityMinWords {
				return article.Title(), text
			}
		}
		var buf bytes.Buffer
		_ = article.RenderText(&buf)
		text := normalizeContent(buf.String())
		if len(strings.Fields(text)) >= readabilityMinWords {
			return article.Title(), text
		}
	}

	node, parseErr := html.Parse(bytes.NewReader(data))
	if parseErr != nil {
		return "", ""
	}
	return extractTitle(node), extractText(node)
}

func extractTitle(node *html.Node) string {
	var title *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			title = n
			return
		}
		for child := n.FirstChild; child != nil && title == nil; child = child.NextSibling {
			find(child)
		}
	}
	find(node)
	if title == nil {
		return ""
	}

	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(title)
	return strings.TrimSpace(buf.String())
}

// extractText walks the body text, dropping script, style and page chrome.
func extractText(node *html.Node) string {
	var b strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style", "noscript", "template", "head", "nav", "footer", "aside", "form", "svg":
				return
			case "p", "div", "section", "article", "li", "pre", "blockquote", "tr", "br",
				"h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n\n")
			}
			if hasAttr(n, "hidden") || attrVal(n, "aria-hidden") == "true" {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)

	return normalizeContent(b.String())
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// normalizeContent trims every line and collapses runs of blank lines.
func normalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank {
				cleaned = append(cleaned, "")
				blank = true
			}
			continue
		}
		blank = false
		cleaned = append(cleaned, trimmed)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
