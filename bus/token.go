package bus

import (
	"context"
	"sync"
)

// Token tracks an asynchronous broker operation. Done is closed once the
// broker acknowledged the operation or it failed; Error is only
// meaningful after that. Tokens of github.com/eclipse/paho.mqtt.golang
// satisfy this interface.
type Token interface {
	Done() <-chan struct{}
	Error() error
}

// CompletionToken is a Token completed by its owner.
type CompletionToken struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewCompletionToken returns a pending token.
func NewCompletionToken() *CompletionToken {
	return &CompletionToken{done: make(chan struct{})}
}

// Complete marks the token done with err. Later calls are ignored.
func (t *CompletionToken) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done implements Token.
func (t *CompletionToken) Done() <-chan struct{} { return t.done }

// Error implements Token. It returns nil while the token is pending.
func (t *CompletionToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// FailedToken returns a token already completed with err.
func FailedToken(err error) Token {
	t := NewCompletionToken()
	t.Complete(err)
	return t
}

// CompletedToken returns a token already completed successfully.
func CompletedToken() Token {
	return FailedToken(nil)
}

// Wait blocks until tok completes or ctx ends.
func Wait(ctx context.Context, tok Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acknowledged reports whether tok completed without error, without
// blocking.
func Acknowledged(tok Token) bool {
	select {
	case <-tok.Done():
		return tok.Error() == nil
	default:
		return false
	}
}
