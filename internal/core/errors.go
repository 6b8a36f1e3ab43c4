package core

import (
	"errors"
	"fmt"
)

// ErrConfig marks construction-time misconfiguration. Such errors abort a run before dispatch.
var ErrConfig = errors.New("configuration error")

// SendPhase names the step of an iteration in which a transport failed.
type SendPhase string

const (
	PhaseAcquire  SendPhase = "acquire"
	PhaseRender   SendPhase = "render"
	PhasePreSend  SendPhase = "pre-send"
	PhaseSend     SendPhase = "send"
	PhaseReply    SendPhase = "reply"
	PhaseValidate SendPhase = "validate"
	PhasePostSend SendPhase = "post-send"
)

// SendError is a recoverable failure of a single iteration.
type SendError struct {
	Phase     SendPhase
	Iteration int64
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("iteration %d: %s: %v", e.Iteration, e.Phase, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err was caused by misconfiguration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}
