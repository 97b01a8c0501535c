// Package errors classifies the failures of the testbedbus protocol layer.
//
// Three classes drive caller decisions:
//
//   - Transient: the caller may retry (ErrAnswerTimeout, ErrPublishTimeout,
//     ErrNotConnected).
//   - Invalid: a programming or configuration error at the boundary with
//     the caller (ErrInvalidTemplate, ErrNotSubtopic). Never caught and
//     ignored.
//   - Fatal: the agent must not proceed (ErrSubscribeTimeout from Start).
//
// Wrapping follows "component.method: action failed: %w" so errors.Is and
// errors.As keep working through the chain:
//
//	if err := client.Start(ctx); err != nil {
//	    return errors.WrapFatal(err, "Agent", "Run", "start bus client")
//	}
//
// Protocol errors surface to the immediate caller. They are never turned
// into bus messages on the caller's behalf.
package errors
