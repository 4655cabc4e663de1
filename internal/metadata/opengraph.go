package metadata

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// openGraph holds the tags of a page that can stand in for missing API data.
type openGraph struct {
	Title       string
	Description string
	Image       string
}

// fetchOpenGraph loads pageURL and reads its og: meta tags.
func (c *Client) fetchOpenGraph(ctx context.Context, pageURL string) (openGraph, error) {
	body, err := c.get(ctx, pageURL, "text/html")
	if err != nil {
		return openGraph{}, wrapError("page", pageURL, err)
	}
	og, err := parseOpenGraph(body)
	if err != nil {
		return openGraph{}, wrapError("page", pageURL, err)
	}
	og.Image = resolveRef(pageURL, og.Image)
	return og, nil
}

// resolveRef makes ref absolute against base. Unparseable refs are dropped.
func resolveRef(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

func parseOpenGraph(body []byte) (openGraph, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return openGraph{}, err
	}

	var og openGraph
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var prop, content string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "property", "name":
					prop = strings.ToLower(a.Val)
				case "content":
					content = strings.TrimSpace(a.Val)
				}
			}
			switch prop {
			case "og:title":
				og.Title = content
			case "og:description":
				og.Description = content
			case "og:image":
				og.Image = content
			}
		}
		// og tags live in <head>; skip the body entirely.
		if n.Type == html.ElementNode && n.Data == "body" {
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return og, nil
}
