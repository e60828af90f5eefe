// internal/snapshot/snapshot.go
package snapshot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	json "github.com/json-iterator/go"
)

// ErrSourceUnavailable marks a capture failure that will not fix itself
// (no device attached, tool missing). Runs end on it instead of retrying.
var ErrSourceUnavailable = errors.New("ui state source unavailable")

// Bounds is an on-screen rectangle in pixels.
type Bounds struct {
	Left, Top, Right, Bottom int
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() (x, y int) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

// Valid reports whether the rectangle has a positive area.
func (b Bounds) Valid() bool {
	return b.Right > b.Left && b.Bottom > b.Top
}

// MarshalText renders bounds as "l,t,r,b".
func (b Bounds) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d,%d,%d,%d", b.Left, b.Top, b.Right, b.Bottom)), nil
}

// UnmarshalText parses "l,t,r,b".
func (b *Bounds) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ",")
	if len(parts) != 4 {
		return fmt.Errorf("bounds %q: want 4 comma separated integers", text)
	}
	var vals [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("bounds %q: %w", text, err)
		}
		vals[i] = n
	}
	*b = Bounds{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}
	return nil
}

// Node is one visible or clickable element. The JSON keys are short because
// the whole list is pasted into every prompt.
type Node struct {
	Text       string `json:"txt"`
	Desc       string `json:"desc"`
	ResourceID string `json:"id"`
	Class      string `json:"cls"`
	Bounds     Bounds `json:"bnds"`
	Clickable  bool   `json:"clk"`
}

// Label is the lower-cased text and description, space separated.
func (n Node) Label() string {
	return strings.ToLower(strings.TrimSpace(n.Text + " " + n.Desc))
}

// Snapshot is the screen at one point in time.
type Snapshot struct {
	Nodes []Node
	// Unchanged is set by the source when the content matches its previous capture.
	Unchanged bool
}

// Serialize renders the node list as the compact JSON array sent to the model.
func (s Snapshot) Serialize() string {
	nodes := s.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	out, err := json.ConfigCompatibleWithStandardLibrary.MarshalToString(nodes)
	if err != nil {
		// Node only holds strings, ints and bools.
		return "[]"
	}
	return out
}

// Hash is a content hash of the serialized node list.
func (s Snapshot) Hash() uint64 {
	return xxhash.Sum64String(s.Serialize())
}

// NodeCount is the number of captured nodes.
func (s Snapshot) NodeCount() int { return len(s.Nodes) }

// Clickable returns clickable nodes in traversal order.
func (s Snapshot) Clickable() []Node {
	var out []Node
	for _, n := range s.Nodes {
		if n.Clickable {
			out = append(out, n)
		}
	}
	return out
}

// ContainsAny reports the first keyword found, case-insensitively, in the
// text, description or resource id of any node.
func (s Snapshot) ContainsAny(keywords []string) (string, bool) {
	fields := make([]string, 0, 3*len(s.Nodes))
	for _, n := range s.Nodes {
		fields = append(fields, n.Text, n.Desc, n.ResourceID)
	}
	haystack := strings.ToLower(strings.Join(fields, "\n"))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

// Decode parses a serialized node list.
func Decode(raw string) (Snapshot, error) {
	var nodes []Node
	if err := json.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &nodes); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return Snapshot{Nodes: nodes}, nil
}
