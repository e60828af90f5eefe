// internal/device/hierarchy.go
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

// ErrNoRoot means the device reported no accessibility root, for example
// while the screen is off or an app is switching.
var ErrNoRoot = errors.New("no accessibility root available")

// ParseHierarchy converts a uiautomator XML dump into the compact node list.
// A node is kept when it is not explicitly invisible and has text, a content
// description, or is clickable. Children are visited regardless, in document
// order.
func ParseHierarchy(data []byte) ([]snapshot.Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing ui hierarchy: %w", err)
	}
	root := doc.Root()
	if root == nil || len(root.ChildElements()) == 0 {
		return nil, ErrNoRoot
	}

	nodes := []snapshot.Node{}
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == "node" {
			if n, ok := toNode(el); ok {
				nodes = append(nodes, n)
			}
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(root)
	return nodes, nil
}

func toNode(el *etree.Element) (snapshot.Node, bool) {
	if el.SelectAttrValue("visible-to-user", "true") == "false" {
		return snapshot.Node{}, false
	}
	n := snapshot.Node{
		Text:       el.SelectAttrValue("text", ""),
		Desc:       el.SelectAttrValue("content-desc", ""),
		ResourceID: el.SelectAttrValue("resource-id", ""),
		Class:      shortClass(el.SelectAttrValue("class", "")),
		Clickable:  el.SelectAttrValue("clickable", "false") == "true",
	}
	if n.Text == "" && n.Desc == "" && !n.Clickable {
		return snapshot.Node{}, false
	}
	if b, err := parseBounds(el.SelectAttrValue("bounds", "")); err == nil {
		n.Bounds = b
	}
	return n, true
}

// shortClass keeps the simple class name, "android.widget.Button" -> "Button".
func shortClass(class string) string {
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		return class[i+1:]
	}
	return class
}

// parseBounds reads the uiautomator "[l,t][r,b]" format.
func parseBounds(s string) (snapshot.Bounds, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return snapshot.Bounds{}, fmt.Errorf("bounds %q: unexpected format", s)
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '[' || r == ']' || r == ',' })
	if len(fields) != 4 {
		return snapshot.Bounds{}, fmt.Errorf("bounds %q: want 4 values", s)
	}
	var v [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return snapshot.Bounds{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = n
	}
	return snapshot.Bounds{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
}
