package domain

// ResultKind tags the outcome of an engine operation.
type ResultKind int

const (
	ResultOK ResultKind = iota
	// ResultProtocolError means the counterparty (or the local flow) broke the protocol.
	// The session is in ERROR.
	ResultProtocolError
	// ResultCallerError means the operation was misused. State is unchanged.
	ResultCallerError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultProtocolError:
		return "protocol_error"
	case ResultCallerError:
		return "caller_error"
	}
	return "unknown"
}

// Result is returned by every state-changing engine operation in place of an error.
type Result struct {
	Kind   ResultKind
	State  *SessionState
	Reason string

	// Duplicate is set when an inbound event was already seen.
	Duplicate bool
}

// Ok builds a successful result.
func Ok(state *SessionState) Result {
	return Result{Kind: ResultOK, State: state}
}

// ProtocolError builds a result for a session driven to ERROR.
func ProtocolError(state *SessionState, reason string) Result {
	return Result{Kind: ResultProtocolError, State: state, Reason: reason}
}

// CallerError builds a result for a misused operation.
func CallerError(state *SessionState, reason string) Result {
	return Result{Kind: ResultCallerError, State: state, Reason: reason}
}

// IsOK reports whether the operation succeeded.
func (r Result) IsOK() bool { return r.Kind == ResultOK }
