package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

func TestParseHierarchy_OrderAndFilter(t *testing.T) {
	nodes, err := ParseHierarchy([]byte(sampleDump))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "Wi-Fi", nodes[0].Text)
	assert.Equal(t, "ImageButton", nodes[1].Class)
}

func TestParseHierarchy_NoRoot(t *testing.T) {
	_, err := ParseHierarchy([]byte(`<?xml version="1.0"?><hierarchy rotation="0"/>`))
	assert.ErrorIs(t, err, ErrNoRoot)

	_, err = ParseHierarchy([]byte("not xml <"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRoot)
}

func TestParseHierarchy_BadBoundsKeepsNode(t *testing.T) {
	nodes, err := ParseHierarchy([]byte(`<hierarchy><node text="OK" clickable="true" bounds="garbage"/></hierarchy>`))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.False(t, nodes[0].Bounds.Valid())
}

func TestParseBounds(t *testing.T) {
	b, err := parseBounds("[0,63][1080,2274]")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Bounds{Left: 0, Top: 63, Right: 1080, Bottom: 2274}, b)

	for _, bad := range []string{"", "0,0,1,1", "[0,0][1]", "[a,0][1,1]"} {
		_, err := parseBounds(bad)
		assert.Error(t, err, bad)
	}
}

func TestShortClass(t *testing.T) {
	assert.Equal(t, "Button", shortClass("android.widget.Button"))
	assert.Equal(t, "View", shortClass("View"))
	assert.Equal(t, "", shortClass(""))
}
