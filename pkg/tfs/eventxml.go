package tfs

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// node is a minimal element tree built from an event document. Only element
// names, children and text are kept; attributes are not needed for extraction.
type node struct {
	name     xml.Name
	children []*node
	text     strings.Builder
}

// parseDocument strictly parses s as a standalone XML document with a single root.
func parseDocument(s string) (*node, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("event document is empty")
	}

	dec := xml.NewDecoder(strings.NewReader(s))
	// The document has already been decoded into a Go string, so a declared
	// encoding such as utf-16 describes the original bytes, not s.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var root *node
	var stack []*node
	var scopes [][]string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse event document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			scopes = append(scopes, declaredNamespaces(t))
			if err := checkPrefixes(t, scopes); err != nil {
				return nil, err
			}
			el := &node{name: t.Name}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("event document has more than one root element")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			scopes = scopes[:len(scopes)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, errors.New("event document has text outside the root element")
				}
				continue
			}
			// An element's value is the text of all of its descendants.
			for _, open := range stack {
				open.text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("event document has no root element")
	}
	return root, nil
}

const xmlNamespaceURL = "http://www.w3.org/XML/1998/namespace"

// declaredNamespaces returns the namespace URLs declared on start.
func declaredNamespaces(start xml.StartElement) []string {
	var urls []string
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			urls = append(urls, a.Value)
		}
	}
	return urls
}

// checkPrefixes rejects element and attribute names whose prefix was never
// declared. The decoder resolves declared prefixes to their URL and leaves
// unknown ones as the bare prefix.
func checkPrefixes(start xml.StartElement, scopes [][]string) error {
	names := []xml.Name{start.Name}
	for _, a := range start.Attr {
		names = append(names, a.Name)
	}
	for _, name := range names {
		switch name.Space {
		case "", "xmlns", "xml", xmlNamespaceURL:
			continue
		}
		if !inScope(name.Space, scopes) {
			return fmt.Errorf("event document uses undeclared namespace prefix %q", name.Space)
		}
	}
	return nil
}

func inScope(url string, scopes [][]string) bool {
	for i := len(scopes) - 1; i >= 0; i-- {
		for _, declared := range scopes[i] {
			if declared == url {
				return true
			}
		}
	}
	return false
}

// is reports whether n is the un-namespaced element local.
func (n *node) is(local string) bool {
	return n.name.Space == "" && n.name.Local == local
}

// descendant finds the first element named local in document order, n included.
func (n *node) descendant(local string) *node {
	if n.is(local) {
		return n
	}
	for _, child := range n.children {
		if found := child.descendant(local); found != nil {
			return found
		}
	}
	return nil
}

// child returns the first direct child named local.
func (n *node) child(local string) (*node, error) {
	for _, c := range n.children {
		if c.is(local) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("element %s has no %s child", n.name.Local, local)
}

// childValue returns the text value of the direct child named local.
func (n *node) childValue(local string) (string, error) {
	c, err := n.child(local)
	if err != nil {
		return "", err
	}
	return c.text.String(), nil
}
