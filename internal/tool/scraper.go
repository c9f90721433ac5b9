package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/weaveline/weft/internal/workflow"
)

func scraperTool() *Handle {
	return &Handle{
		ID:          "scraper",
		Name:        "Web Scraper",
		Description: "Fetch a page and extract its title, visible text, and links",
		Category:    "network",
		InputSchema: map[string]any{
			"url": "string (required)",
		},
		OutputSchema: map[string]any{
			"title": "string",
			"text":  "string",
			"links": "array of {href, text}",
		},
		Invoke: func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error) {
			pageURL, err := strArg(input, "url")
			if err != nil {
				return nil, err
			}
			ec.Log(workflow.LogInfo, "Scraping page", map[string]any{"url": pageURL})
			resp, err := DoRequest(ctx, RequestSpec{URL: pageURL, Method: http.MethodGet})
			if err != nil {
				return nil, err
			}
			body, _ := resp["body"].(string)
			if body == "" {
				return nil, fmt.Errorf("scrape %s: empty or non-text response", pageURL)
			}
			return extractPage(body, pageURL)
		},
	}
}

// extractPage walks the parsed document once, collecting the title, the
// visible text outside script/style, and anchor hrefs resolved against the
// page URL.
func extractPage(rawHTML, pageURL string) (map[string]any, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var title string
	var text strings.Builder
	links := []any{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				for _, attr := range n.Attr {
					if attr.Key != "href" {
						continue
					}
					href := attr.Val
					if base != nil {
						if resolved, err := base.Parse(href); err == nil {
							href = resolved.String()
						}
					}
					links = append(links, map[string]any{
						"href": href,
						"text": strings.TrimSpace(nodeText(n)),
					})
				}
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return map[string]any{
		"title": title,
		"text":  text.String(),
		"links": links,
	}, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
