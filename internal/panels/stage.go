package panels

import "fmt"

// stage is the explicit state machine behind one upload item. Keeping the
// transitions named (instead of ad hoc booleans) makes the panel invariants
// independently testable.
type stage int

const (
	stagePending stage = iota
	stageNormalizing
	stageUploading
	stageVerifying
	stageReady
	stageEvicted
)

var stageNames = map[stage]string{
	stagePending:     "pending",
	stageNormalizing: "normalizing",
	stageUploading:   "uploading",
	stageVerifying:   "verifying",
	stageReady:       "ready",
	stageEvicted:     "evicted",
}

func (s stage) String() string {
	return stageNames[s]
}

// transitions lists the only legal moves. Eviction is reachable from every
// non-terminal stage.
var transitions = map[stage][]stage{
	stagePending:     {stageNormalizing, stageUploading, stageEvicted},
	stageNormalizing: {stageUploading, stageEvicted},
	stageUploading:   {stageVerifying, stageEvicted},
	stageVerifying:   {stageReady, stageEvicted},
}

func (s stage) canAdvance(to stage) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// advance moves to the next stage or panics on an illegal transition,
// which would be a programming error in the pipeline, not a runtime
// condition.
func (s stage) advance(to stage) stage {
	if !s.canAdvance(to) {
		panic(fmt.Sprintf("panels: illegal stage transition %s -> %s", s, to))
	}
	return to
}
