package scan

import (
	"iter"
	"strings"

	"golang.org/x/net/html"
)

// excludedElements are element names whose text content must never be
// linkified: form controls, existing links, and code containers.
var excludedElements = map[string]struct{}{
	"input":    {},
	"textarea": {},
	"select":   {},
	"button":   {},
	"a":        {},
	"code":     {},
	"pre":      {},
}

// editorClassDenylist covers third-party code editor widgets embedded in the
// page. Any element carrying one of these classes is treated like a code
// container.
var editorClassDenylist = []string{
	"CodeMirror",
	"cm-editor",
	"monaco-editor",
	"ace_editor",
}

// Excluded reports whether n or any of its ancestors is a non-linkifiable
// region. Callers apply this to a mutated subtree root before enumerating its
// text nodes so that mutations inside excluded containers are rejected
// without traversal.
func Excluded(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if excludedNode(p) {
			return true
		}
	}
	return false
}

func excludedNode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if _, ok := excludedElements[n.Data]; ok {
		return true
	}
	if Attr(n, "contenteditable") == "true" {
		return true
	}
	classes := Attr(n, "class")
	if classes == "" {
		return false
	}
	for _, deny := range editorClassDenylist {
		if hasClass(classes, deny) {
			return true
		}
	}
	return false
}

// TextNodes yields the candidate text nodes under root in document order.
// Excluded subtrees are pruned without descent, and text nodes that are empty
// after trimming are skipped. The traversal is lazy: stopping the iteration
// stops the walk.
func TextNodes(root *html.Node) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		walkText(root, yield)
	}
}

func walkText(n *html.Node, yield func(*html.Node) bool) bool {
	if n.Type == html.TextNode {
		if strings.TrimSpace(n.Data) == "" {
			return true
		}
		return yield(n)
	}
	if excludedNode(n) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkText(c, yield) {
			return false
		}
	}
	return true
}

// Anchors yields every anchor element under root in document order. Anchors
// inside other excluded containers (code blocks, editors) are skipped. Used
// by the existing-link pass, which harvests keys the page has already
// rendered as clickable text.
func Anchors(root *html.Node) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		walkAnchors(root, yield)
	}
}

func walkAnchors(n *html.Node, yield func(*html.Node) bool) bool {
	if n.Type == html.ElementNode {
		if n.Data == "a" {
			return yield(n)
		}
		if excludedNode(n) {
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkAnchors(c, yield) {
			return false
		}
	}
	return true
}

// Text returns the concatenated text content of n's subtree
func Text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}
