package core

import "fmt"

// Feature is a single proposal flag, matching §6's "proposal flags controlling
// which Wasm extensions are enabled".
type Feature uint32

const (
	FeatureMultiValue Feature = 1 << iota
	FeatureThreads
	FeatureGC
	FeatureExceptions
	FeatureComponentModel
	FeatureRelaxedSIMD
	FeatureTailCall
	FeatureBulkMemory
	FeatureReferenceTypes
)

// Features is a bitmask of enabled proposals, grounded on internal/wasm's
// EnabledFeatures/Require pattern (the source file was trimmed from the
// retrieval pack, but host.go's `enabledFeatures.Require(FeatureMultiValue)`
// call site fixes the shape this type must have).
type Features uint32

// Require returns an error if f is not enabled.
func (fs Features) Require(f Feature) error {
	if fs.IsEnabled(f) {
		return nil
	}
	return fmt.Errorf("feature %q is disabled; enable it to use this instruction", featureName(f))
}

func (fs Features) IsEnabled(f Feature) bool { return Features(f)&fs != 0 }

func (fs Features) With(f Feature) Features { return fs | Features(f) }

func featureName(f Feature) string {
	switch f {
	case FeatureMultiValue:
		return "multi-value"
	case FeatureThreads:
		return "threads"
	case FeatureGC:
		return "gc"
	case FeatureExceptions:
		return "exceptions"
	case FeatureComponentModel:
		return "component-model"
	case FeatureRelaxedSIMD:
		return "relaxed-simd"
	case FeatureTailCall:
		return "tail-call"
	case FeatureBulkMemory:
		return "bulk-memory"
	case FeatureReferenceTypes:
		return "reference-types"
	default:
		return "unknown"
	}
}

// DefaultFeatures enables the proposals that have long since shipped to the
// official Wasm spec; threads/GC/exceptions/component-model/relaxed-SIMD
// remain opt-in.
const DefaultFeatures Features = Features(FeatureMultiValue | FeatureBulkMemory | FeatureReferenceTypes)

// StatisticsConfig is the sub-config named in §6: instruction counting, cost
// measuring, time measuring, and a cost limit. The Store keeps a copy of it;
// the interpreter does no instruction counting or cost accounting, and the
// Compiled-Code Bridge's ExecutionContext.InstrCount/Gas/GasLimit/CostTable
// are not filled in from it.
type StatisticsConfig struct {
	InstructionCounting bool
	CostMeasuring       bool
	TimeMeasuring       bool
	CostLimit           uint64
}

// AllocatorStability is §6's "allocator stability flag". It is recorded in
// Config only: nothing reads it, and the Compiled-Code Bridge's
// ExecutionContext.Memories always holds *MemoryInstance pointers whatever
// its value.
type AllocatorStability bool

const (
	AllocatorUnstable AllocatorStability = false
	AllocatorStable   AllocatorStability = true
)

// Config is the Executor Facade's read-only configuration (§6, §9.14 "Config()").
type Config struct {
	Features           Features
	Statistics         StatisticsConfig
	AllocatorStability AllocatorStability
}

func NewConfig() Config {
	return Config{Features: DefaultFeatures}
}
