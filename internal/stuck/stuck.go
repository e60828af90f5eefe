// internal/stuck/stuck.go
package stuck

import "fmt"

// Level controls how strongly the next prompt pushes the model to deliberate.
type Level int

const (
	// LevelBrief asks for short reasoning.
	LevelBrief Level = iota
	// LevelAnalyze asks the model to examine the target element first.
	LevelAnalyze
	// LevelLooping tells the model it is repeating itself and must change strategy.
	LevelLooping
)

func (l Level) String() string {
	switch l {
	case LevelBrief:
		return "brief"
	case LevelAnalyze:
		return "analyze"
	case LevelLooping:
		return "looping"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Detector tracks UI hash stability and repeated action signatures. It never
// blocks an action; it only decides the level of the next prompt. A Detector
// is owned by a single run and is not safe for concurrent use.
type Detector struct {
	complexityThreshold int
	maxLoopingTicks     int

	hasHash    bool
	lastHash   uint64
	lastNodes  int
	level      Level
	signatures map[string]struct{}

	loopingTicks int
}

// New creates a detector. Screens with more than complexityThreshold nodes
// start at LevelAnalyze. maxLoopingTicks bounds consecutive LevelLooping
// prompts; zero leaves it unbounded.
func New(complexityThreshold, maxLoopingTicks int) *Detector {
	return &Detector{
		complexityThreshold: complexityThreshold,
		maxLoopingTicks:     maxLoopingTicks,
		signatures:          make(map[string]struct{}),
	}
}

// Observe records the content hash of a fresh capture. A new hash clears the
// signature set and resets the level from the node count. An unchanged hash
// leaves everything as it was. It reports whether the hash changed.
func (d *Detector) Observe(hash uint64, nodeCount int) bool {
	if d.hasHash && hash == d.lastHash {
		return false
	}
	d.hasHash = true
	d.lastHash = hash
	d.lastNodes = nodeCount
	d.clearSignatures()
	d.level = d.baseLevel(nodeCount)
	return true
}

// Record inserts an action signature. A signature already seen on this UI
// state raises the level to LevelLooping for the next prompt and returns true.
func (d *Detector) Record(signature string) bool {
	_, seen := d.signatures[signature]
	if seen {
		d.level = LevelLooping
	}
	d.signatures[signature] = struct{}{}
	return seen
}

// StepAdvanced resets the detector at a step boundary.
func (d *Detector) StepAdvanced() {
	d.clearSignatures()
	d.level = d.baseLevel(d.lastNodes)
	d.loopingTicks = 0
}

// BeginPrompt returns the level for the prompt about to be built and counts
// consecutive looping prompts.
func (d *Detector) BeginPrompt() Level {
	if d.level == LevelLooping {
		d.loopingTicks++
	} else {
		d.loopingTicks = 0
	}
	return d.level
}

// Exhausted reports whether the looping streak has passed the configured cap.
func (d *Detector) Exhausted() bool {
	return d.maxLoopingTicks > 0 && d.loopingTicks > d.maxLoopingTicks
}

// Level is the level the next prompt will use.
func (d *Detector) Level() Level { return d.level }

// LastHash is the most recent observed content hash.
func (d *Detector) LastHash() uint64 { return d.lastHash }

// LoopingTicks is the current streak of looping prompts.
func (d *Detector) LoopingTicks() int { return d.loopingTicks }

// Signatures returns a copy of the recorded signature set.
func (d *Detector) Signatures() []string {
	out := make([]string, 0, len(d.signatures))
	for s := range d.signatures {
		out = append(out, s)
	}
	return out
}

func (d *Detector) baseLevel(nodeCount int) Level {
	if nodeCount > d.complexityThreshold {
		return LevelAnalyze
	}
	return LevelBrief
}

func (d *Detector) clearSignatures() {
	clear(d.signatures)
}
