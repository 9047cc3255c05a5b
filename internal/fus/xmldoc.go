package fus

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Document is a parsed XML response, queried by element path.
type Document struct {
	root *node
}

type node struct {
	name     string
	text     strings.Builder
	children []*node
}

// ParseDocument reads an XML document into memory.
func ParseDocument(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("parse xml: multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parse xml: no root element")
	}
	return &Document{root: root}, nil
}

// Field returns the text of the element at path, where path[0] names the
// root element. The first matching child is taken at every level.
func (d *Document) Field(path ...string) (string, bool) {
	if len(path) == 0 || d.root.name != path[0] {
		return "", false
	}
	n := d.root
	for _, seg := range path[1:] {
		n = n.child(seg)
		if n == nil {
			return "", false
		}
	}
	return strings.TrimSpace(n.text.String()), true
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}
