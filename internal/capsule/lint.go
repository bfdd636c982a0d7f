package capsule

// LintResult reports the size of a compiled capsule.
type LintResult struct {
	Chars          int
	TokensEstimate int
	WarnTokens     int
	OverBudget     bool // TokensEstimate exceeds WarnTokens; advisory only
}

// Lint measures capsule text against a warning threshold. A warnTokens of
// zero or less disables the check. Capsules are never truncated.
func Lint(text string, warnTokens int) LintResult {
	result := LintResult{
		Chars:          CountChars(text),
		TokensEstimate: EstimateTokens(text),
		WarnTokens:     warnTokens,
	}
	if warnTokens > 0 && result.TokensEstimate > warnTokens {
		result.OverBudget = true
	}
	return result
}
