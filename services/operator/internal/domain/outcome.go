package domain

// Outcome reports a best-effort ledger operation. Applied=false with a
// Reason is advisory: callers may log or inspect it but must not treat it as
// a blocking failure. Hard failures travel as ordinary errors instead.
type Outcome struct {
	Applied bool
	Reason  string
}

func OutcomeApplied() Outcome {
	return Outcome{Applied: true}
}

func OutcomeSkipped(reason string) Outcome {
	return Outcome{Applied: false, Reason: reason}
}
