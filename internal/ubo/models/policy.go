package models

// RiskPolicy carries the scoring weights and thresholds for one policy
// regime. The engine never hard-codes these; jurisdictional variants are
// injected at wiring time.
type RiskPolicy struct {
	HardStopWeight     int
	EscalateWeight     int
	SoftWeight         int
	ExpiredProofWeight int
	MissingProofWeight int
	DisputedWeight     int

	// EscalateCountLimit: more than this many escalate flags forces ESCALATE.
	EscalateCountLimit int
	// ScoreLimit: a score above this forces ESCALATE.
	ScoreLimit int
	// UBOThresholdPct: total proven ownership at or above this marks a
	// natural person as beneficial owner.
	UBOThresholdPct float64
	// PercentTolerance: alleged/observed differences up to and including
	// this are treated as a match.
	PercentTolerance float64
}

// DefaultRiskPolicy returns the shipped policy.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		HardStopWeight:     100,
		EscalateWeight:     25,
		SoftWeight:         5,
		ExpiredProofWeight: 10,
		MissingProofWeight: 15,
		DisputedWeight:     20,
		EscalateCountLimit: 2,
		ScoreLimit:         100,
		UBOThresholdPct:    25.0,
		PercentTolerance:   1.0,
	}
}

// RiskInputs are the facts an evaluation scores.
type RiskInputs struct {
	SoftFlags     int
	EscalateFlags int
	HardStopFlags int
	ExpiredProofs int
	MissingProofs int
	DisputedEdges int
	IsConverged   bool
}

// Score computes the weighted risk score for the inputs.
func (p RiskPolicy) Score(in RiskInputs) int {
	return p.HardStopWeight*in.HardStopFlags +
		p.EscalateWeight*in.EscalateFlags +
		p.SoftWeight*in.SoftFlags +
		p.ExpiredProofWeight*in.ExpiredProofs +
		p.MissingProofWeight*in.MissingProofs +
		p.DisputedWeight*in.DisputedEdges
}

// Recommend maps inputs and their score to an action, in priority order.
func (p RiskPolicy) Recommend(in RiskInputs, score int) RecommendedAction {
	switch {
	case in.HardStopFlags > 0:
		return ActionReject
	case score > p.ScoreLimit || in.EscalateFlags > p.EscalateCountLimit:
		return ActionEscalate
	case in.DisputedEdges > 0 || in.MissingProofs > 0:
		return ActionRemediate
	case in.IsConverged:
		return ActionApprove
	default:
		return ActionPending
	}
}
