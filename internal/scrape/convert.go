package scrape

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
)

// htmlToText converts HTML to markdown-flavoured plain text: links stay
// inline, tables are kept, images and emphasis are dropped and no line
// wrapping is applied.
func htmlToText(html string) (string, error) {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.Table())
	conv.Remove("img")
	conv.AddRules(md.Rule{
		Filter: []string{"em", "i", "strong", "b"},
		Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
			return &content
		},
	})

	text, err := conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return text, nil
}

// cleanHTML strips the usual boilerplate from an HTML document: script,
// style, head, iframe, meta and svg elements, class and style attributes,
// and tags left empty after the cleanup (br and hr stay).
func cleanHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, head, iframe, meta, svg").Remove()

	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		sel.RemoveAttr("class")
		sel.RemoveAttr("style")
	})

	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		name := goquery.NodeName(sel)
		if name == "br" || name == "hr" {
			return
		}
		if sel.Children().Length() == 0 && strings.TrimSpace(sel.Text()) == "" {
			sel.Remove()
		}
	})

	cleaned, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return strings.TrimSpace(cleaned), nil
}
