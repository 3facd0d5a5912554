package scan

import "golang.org/x/net/html"

// Attr returns the value of the named attribute of n, or "" when absent
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// CountElements counts the element nodes under root, root included. The
// scheduler derives its performance mode from this count once per page.
func CountElements(root *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return count
}

// FindMain locates the top-level scan root: the first main landmark element,
// falling back to body, falling back to the document itself.
func FindMain(doc *html.Node) *html.Node {
	if main := findElement(doc, "main"); main != nil {
		return main
	}
	if body := findElement(doc, "body"); body != nil {
		return body
	}
	return doc
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}
