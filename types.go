package holderd

// VisionReply is one region's answer from a VisionOracle.
// Confidence is in [0, 1]; Rationale is the oracle's free-text reasoning
// and may be empty.
type VisionReply struct {
	Material   string
	Type       string
	Confidence float64
	Rationale  string
}
