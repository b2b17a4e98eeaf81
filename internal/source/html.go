package source

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

// RootElementID is the element pages hydrate into.
const RootElementID = "__pagepack"

// DataElementID holds the serialized page data.
const DataElementID = "__PAGEPACK_DATA__"

// RenderPageHTML fills a document shell: the page data goes into a JSON
// script after the root element, then one script tag per client chunk URL.
func RenderPageHTML(document []byte, data any, scripts []string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(document))
	if err != nil {
		return nil, pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to parse document shell", err)
	}

	body := findElement(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	if body == nil {
		return nil, pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "document shell has no body", nil)
	}
	if findElement(doc, func(n *html.Node) bool { return attr(n, "id") == RootElementID }) == nil {
		body.AppendChild(element(atom.Div, []html.Attribute{{Key: "id", Val: RootElementID}}))
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to encode page data", err)
	}
	// "</" would end the script element early.
	escaped := strings.ReplaceAll(string(payload), "</", `<\/`)
	dataScript := element(atom.Script, []html.Attribute{
		{Key: "id", Val: DataElementID},
		{Key: "type", Val: "application/json"},
	})
	dataScript.AppendChild(&html.Node{Type: html.TextNode, Data: escaped})
	body.AppendChild(dataScript)

	for _, src := range scripts {
		body.AppendChild(element(atom.Script, []html.Attribute{{Key: "src", Val: src}, {Key: "defer", Val: ""}}))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to render page", err)
	}
	return buf.Bytes(), nil
}

func element(a atom.Atom, attrs []html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.Type == html.ElementNode && match(cur) {
			return cur
		}
		for c := cur.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return nil
}
