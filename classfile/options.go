package classfile

import "github.com/wippyai/jclassfile/hierarchy"

// StackMapsOption controls StackMapTable generation.
type StackMapsOption uint8

const (
	// StackMapsWhenRequired generates frames for class versions 50 and up.
	StackMapsWhenRequired StackMapsOption = iota
	// StackMapsGenerate generates frames regardless of the class-file version.
	StackMapsGenerate
	// StackMapsDrop never generates frames. Writing code that needs frames
	// for a version that mandates them fails.
	StackMapsDrop
)

// DeadLabelsOption controls structural elements that reference unbound labels.
type DeadLabelsOption uint8

const (
	DeadLabelsFail DeadLabelsOption = iota
	DeadLabelsDrop
)

// DeadCodeOption controls unreachable bytecode found during frame generation.
type DeadCodeOption uint8

const (
	// DeadCodePatch replaces unreachable code with nop ... athrow and removes
	// it from exception ranges.
	DeadCodePatch DeadCodeOption = iota
	// DeadCodeKeep leaves unreachable code as emitted.
	DeadCodeKeep
	// DeadCodeFail rejects code with unreachable instructions.
	DeadCodeFail
)

// ShortJumpsOption controls 16-bit branches whose offset does not fit.
type ShortJumpsOption uint8

const (
	ShortJumpsFix ShortJumpsOption = iota
	ShortJumpsFail
)

// AttributesProcessing filters attributes at parse time.
type AttributesProcessing uint8

const (
	AttributesPassAll AttributesProcessing = iota
	AttributesDropUnknown
	AttributesDropUnstable
)

func (p AttributesProcessing) drops(s Stability) bool {
	switch p {
	case AttributesDropUnknown:
		return s == StabilityUnknown
	case AttributesDropUnstable:
		return s >= StabilityUnstated
	}
	return false
}

// DebugOption selects whether debug pseudo-elements are delivered.
type DebugOption uint8

const (
	DebugPass DebugOption = iota
	DebugDrop
)

// CodeBuildingOption selects how code builders materialize bodies.
type CodeBuildingOption uint8

const (
	// CodeDirect encodes each element as it is emitted.
	CodeDirect CodeBuildingOption = iota
	// CodeBuffered collects elements and encodes them when the class is written.
	CodeBuffered
)

const defaultJoinThreshold = 32

// Options configures parsing, building and transforming.
type Options struct {
	// Resolver answers class hierarchy questions during frame generation.
	// A nil resolver knows only java/lang/Object.
	Resolver hierarchy.Resolver

	StackMaps     StackMapsOption
	DeadLabels    DeadLabelsOption
	DeadCode      DeadCodeOption
	ShortJumps    ShortJumpsOption
	Attributes    AttributesProcessing
	LineNumbers   DebugOption
	DebugElements DebugOption
	CodeBuilding  CodeBuildingOption

	// StrictHierarchy fails frame generation when the resolver cannot answer
	// instead of assuming java/lang/Object.
	StrictHierarchy bool

	// JoinThreshold bounds the merges a single frame may absorb in the fast
	// dataflow pass before the exact pass takes over. Zero means 32.
	JoinThreshold int
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{JoinThreshold: defaultJoinThreshold}
}

func (o Options) joinThreshold() int {
	if o.JoinThreshold <= 0 {
		return defaultJoinThreshold
	}
	return o.JoinThreshold
}
