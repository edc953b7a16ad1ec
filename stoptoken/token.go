package stoptoken

// Token is a cheap, comparable, non-owning handle to a Source's cancellation
// state. The zero Token (NeverStopToken) can never be stopped, modelling
// spec.md's never_stop_token.
type Token struct {
	source *Source
}

// NeverStopToken is a Token that can never be cancelled.
var NeverStopToken = Token{}

// StopRequested reports whether the owning source has had stop requested.
// A never-stoppable token always reports false.
func (t Token) StopRequested() bool {
	return t.source != nil && t.source.requested.Load()
}

// StopPossible reports whether this token could ever be stopped. It is
// false only for the zero Token.
func (t Token) StopPossible() bool {
	return t.source != nil
}

// NewCallback registers fn to run when tok's source requests stop. If stop
// has already been requested, fn runs inline, synchronously, before
// NewCallback returns. If tok is not stoppable (the zero Token), fn is
// never invoked and the returned Callback's Close is a no-op.
//
// The returned Callback's lifetime should be bounded by the scope that
// depends on fn remaining valid; Close must be called before that scope
// ends.
func NewCallback(tok Token, fn func()) *Callback {
	if tok.source == nil || fn == nil {
		return &Callback{}
	}
	cb := &Callback{
		source: tok.source,
		fn:     fn,
		done:   make(chan struct{}),
	}
	if !tok.source.attach(cb) {
		// Stop already requested: invoke inline, at registration time.
		cb.source = nil // detach the never-registered callback from its source
		fn()
	}
	return cb
}
