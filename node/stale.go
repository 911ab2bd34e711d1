package node

import "github.com/distr1/buildgraph/entity"

// StaleReasonCode enumerates why checkActual decided a NodeEntity needs to
// be rebuilt.
type StaleReasonCode uint8

const (
	ReasonNoSignature StaleReasonCode = iota + 1
	ReasonNew
	ReasonSignatureChanged
	ReasonImplicitDepChanged
	ReasonNoTargets
	ReasonTargetChanged
	ReasonForceRebuild
)

func (c StaleReasonCode) String() string {
	switch c {
	case ReasonNoSignature:
		return "NO_SIGNATURE"
	case ReasonNew:
		return "NEW"
	case ReasonSignatureChanged:
		return "SIGNATURE_CHANGED"
	case ReasonImplicitDepChanged:
		return "IMPLICIT_DEP_CHANGED"
	case ReasonNoTargets:
		return "NO_TARGETS"
	case ReasonTargetChanged:
		return "TARGET_CHANGED"
	case ReasonForceRebuild:
		return "FORCE_REBUILD"
	default:
		return "UNKNOWN"
	}
}

// StaleReason explains a single actuality decision. It never affects
// control flow; it exists purely to be handed to a logging collaborator.
type StaleReason struct {
	Code   StaleReasonCode
	Entity entity.Entity // offending entity, if any
}

func reason(code StaleReasonCode) *StaleReason            { return &StaleReason{Code: code} }
func reasonWith(code StaleReasonCode, e entity.Entity) *StaleReason { return &StaleReason{Code: code, Entity: e} }
