package trust

// MergeGuardrail combines a static Check decision with an optional
// guardrail verdict. BLOCK always wins even over an existing approval;
// ASK also returns DecisionDenied when a static approval would otherwise
// allow (no pending approval is set here); ALLOW defers to the static
// decision. Per spec.md §4.10, an
// unparseable guardrail response must already have been normalised to
// VerdictAsk by the caller before reaching here.
func MergeGuardrail(staticDecision Decision, verdict GuardrailVerdict) Decision {
	switch verdict {
	case VerdictBlock:
		return DecisionDenied
	case VerdictAsk:
		return DecisionDenied
	default:
		return staticDecision
	}
}
