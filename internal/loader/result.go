package loader

// Kind discriminates the three mutually exclusive PluginResult variants
// from spec.md §3: ok, error, timeout.
type Kind int

const (
	// KindOK marks a successful plugin return.
	KindOK Kind = iota
	// KindError marks any deterministic failure.
	KindError
	// KindTimeout marks execution that exceeded its wall-clock budget.
	KindTimeout
)

// Result is the Plugin Result tagged value. Exactly one of Payload or
// Reason is meaningful, selected by Kind.
type Result struct {
	kind    Kind
	payload []byte
	reason  string
}

// OK constructs a successful Result carrying payload.
func OK(payload []byte) Result {
	return Result{kind: KindOK, payload: payload}
}

// Failed constructs a deterministic-failure Result carrying reason.
// reason must match one of the literal strings in spec.md §4.7's
// classification table byte-for-byte — those strings are observable
// through the Orchestrator's "plugin execution failed: " + reason
// formatting (spec.md §7).
func Failed(reason string) Result {
	return Result{kind: KindError, reason: reason}
}

// TimedOut constructs the timeout Result.
func TimedOut() Result {
	return Result{kind: KindTimeout}
}

// Kind reports which variant this Result holds.
func (r Result) Kind() Kind { return r.kind }

// Payload returns the successful payload. Only meaningful when
// Kind() == KindOK.
func (r Result) Payload() []byte { return r.payload }

// Reason returns the failure reason. Only meaningful when
// Kind() == KindError.
func (r Result) Reason() string { return r.reason }
