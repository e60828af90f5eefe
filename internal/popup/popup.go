// internal/popup/popup.go
package popup

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/snapshot"
)

// Clicker is the slice of the effector the engine needs.
type Clicker interface {
	Click(ctx context.Context, x, y float64) error
}

// Match is a node that matched a keyword list.
type Match struct {
	Node    snapshot.Node
	Keyword string
}

// Engine closes interstitial dialogs by keyword, without asking the model.
type Engine struct {
	dismiss []string
	allow   []string
	settle  time.Duration
	clicker Clicker
	logger  *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine builds an engine from the popup keyword lists. settle is the pause
// after a dismissal click.
func NewEngine(cfg config.PopupConfig, settle time.Duration, clicker Clicker, logger *zap.Logger) *Engine {
	return &Engine{
		dismiss: normalize(cfg.DismissKeywords),
		allow:   normalize(cfg.AllowKeywords),
		settle:  settle,
		clicker: clicker,
		logger:  logger.Named("popup"),
		sleep:   sleepCtx,
	}
}

// Handle clicks the first clickable node, in traversal order, whose label
// contains a dismiss keyword. At most one click is made per call; stacked
// popups take several ticks. The result reports whether a dismissal was made.
func (e *Engine) Handle(ctx context.Context, snap snapshot.Snapshot) bool {
	m, ok := FindFirst(snap, e.dismiss)
	if !ok {
		return false
	}

	x, y := m.Node.Bounds.Center()
	e.logger.Info("Dismissing popup",
		zap.String("keyword", m.Keyword),
		zap.String("label", m.Node.Label()),
		zap.Int("x", x), zap.Int("y", y))

	if err := e.clicker.Click(ctx, float64(x), float64(y)); err != nil {
		e.logger.Warn("Popup dismissal click failed", zap.Error(err))
	}
	e.sleep(ctx, e.settle)
	return true
}

// FindAllow reports the first node matching the allow list. The loop does not act on it.
func (e *Engine) FindAllow(snap snapshot.Snapshot) (Match, bool) {
	return FindFirst(snap, e.allow)
}

// FindFirst scans clickable nodes with valid bounds and returns the first whose
// label contains one of keywords. Keywords are compared lower-cased, in order.
func FindFirst(snap snapshot.Snapshot, keywords []string) (Match, bool) {
	if len(keywords) == 0 {
		return Match{}, false
	}
	for _, n := range snap.Clickable() {
		if !n.Bounds.Valid() {
			continue
		}
		label := n.Label()
		if label == "" {
			continue
		}
		for _, k := range keywords {
			if strings.Contains(label, strings.ToLower(k)) {
				return Match{Node: n, Keyword: k}, true
			}
		}
	}
	return Match{}, false
}

func normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
