package model

import "fmt"

// DocumentScope says whether a question needs one document or several.
type DocumentScope string

const (
	ScopeSingleDocument DocumentScope = "single_document"
	ScopeMultiDocument  DocumentScope = "multi_document"

	// ScopeUnknown marks a value outside the closed set, kept for forward
	// compatibility when reading files written by newer versions.
	ScopeUnknown DocumentScope = "unknown"
)

// OperationType is the kind of work the RAG system must do to answer.
type OperationType string

const (
	// Single-document operations.
	OpSimpleQA      OperationType = "simple_qa"
	OpExtraction    OperationType = "extraction"
	OpSummarization OperationType = "summarization"
	OpLocate        OperationType = "locate"

	// Multi-document operations.
	OpAggregation    OperationType = "aggregation"
	OpComparison     OperationType = "comparison"
	OpSynthesis      OperationType = "synthesis"
	OpTemporal       OperationType = "temporal"
	OpCrossReference OperationType = "cross_reference"

	// Reasoning operations.
	OpInference      OperationType = "inference"
	OpClassification OperationType = "classification"
	OpGapAnalysis    OperationType = "gap_analysis"

	OpUnknown OperationType = "unknown"
)

// OutputComplexity is the expected answer shape.
type OutputComplexity string

const (
	ComplexityFactoid OutputComplexity = "factoid"
	ComplexityProse   OutputComplexity = "prose"
	ComplexityList    OutputComplexity = "list"
	ComplexityTable   OutputComplexity = "table"

	ComplexityUnknown OutputComplexity = "unknown"
)

// UsageMode is the 3-dimensional categorical label describing how a question
// exercises the RAG system.
type UsageMode struct {
	DocumentScope    DocumentScope    `json:"document_scope"`
	OperationType    OperationType    `json:"operation_type"`
	OutputComplexity OutputComplexity `json:"output_complexity"`
}

// Key returns a stable string form used as a grouping key by the sampler.
func (u UsageMode) Key() string {
	return fmt.Sprintf("%s/%s/%s", u.DocumentScope, u.OperationType, u.OutputComplexity)
}

// Known reports whether all three dimensions carry values from the closed
// sets. Values outside the sets are representable (the types are open
// strings) but only known values pass classifier validation.
func (u UsageMode) Known() bool {
	return u.DocumentScope.Known() && u.OperationType.Known() && u.OutputComplexity.Known()
}

// Known reports whether s is one of the closed-set scopes.
func (s DocumentScope) Known() bool {
	switch s {
	case ScopeSingleDocument, ScopeMultiDocument:
		return true
	}
	return false
}

// Known reports whether o is one of the closed-set operation types.
func (o OperationType) Known() bool {
	switch o {
	case OpSimpleQA, OpExtraction, OpSummarization, OpLocate,
		OpAggregation, OpComparison, OpSynthesis, OpTemporal, OpCrossReference,
		OpInference, OpClassification, OpGapAnalysis:
		return true
	}
	return false
}

// Known reports whether c is one of the closed-set complexities.
func (c OutputComplexity) Known() bool {
	switch c {
	case ComplexityFactoid, ComplexityProse, ComplexityList, ComplexityTable:
		return true
	}
	return false
}

// ParseUsageMode builds a UsageMode from raw strings, validating each
// dimension against its closed set.
func ParseUsageMode(scope, operation, complexity string) (UsageMode, error) {
	um := UsageMode{
		DocumentScope:    DocumentScope(scope),
		OperationType:    OperationType(operation),
		OutputComplexity: OutputComplexity(complexity),
	}
	if !um.DocumentScope.Known() {
		return um, fmt.Errorf("unknown document_scope %q", scope)
	}
	if !um.OperationType.Known() {
		return um, fmt.Errorf("unknown operation_type %q", operation)
	}
	if !um.OutputComplexity.Known() {
		return um, fmt.Errorf("unknown output_complexity %q", complexity)
	}
	return um, nil
}
