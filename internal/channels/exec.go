package channels

import (
	"sync"

	"github.com/collabcode/client/internal/model"
	"github.com/collabcode/client/internal/protocol"
)

// Executor fires execute-code requests and tracks the in-flight flag. There
// is no cancellation message in the relay contract: Reset only stops
// waiting locally, it cannot interrupt the remote run.
type Executor struct {
	sessionID string
	sender    Sender

	mu        sync.Mutex
	executing bool
	last      *model.ExecutionResult
	onResult  func(model.ExecutionResult)
}

// NewExecutor creates an execution channel for the session.
func NewExecutor(sessionID string, sender Sender) *Executor {
	return &Executor{sessionID: sessionID, sender: sender}
}

// OnResult registers an observer for execution results.
func (e *Executor) OnResult(fn func(model.ExecutionResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResult = fn
}

// Execute sends a run request. Only one request may be outstanding at a
// time.
func (e *Executor) Execute(code, language, fileName string) error {
	e.mu.Lock()
	if e.executing {
		e.mu.Unlock()
		return model.ErrExecutionInProgress
	}
	e.executing = true
	e.mu.Unlock()

	err := e.sender.Send(protocol.EventExecuteCode, protocol.ExecuteCode{
		SessionID: e.sessionID,
		Code:      code,
		Language:  language,
		FileName:  fileName,
	})
	if err != nil {
		e.mu.Lock()
		e.executing = false
		e.mu.Unlock()
		return err
	}
	return nil
}

// HandleResult records the runner's output and flips the in-flight flag
// back to idle.
func (e *Executor) HandleResult(result protocol.CodeExecutionResult) {
	e.mu.Lock()
	e.executing = false
	out := result.Output
	e.last = &out
	notify := e.onResult
	e.mu.Unlock()

	if notify != nil {
		notify(out)
	}
}

// IsExecuting reports whether a run request is outstanding.
func (e *Executor) IsExecuting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executing
}

// LastResult returns the most recent execution result, if any.
func (e *Executor) LastResult() (model.ExecutionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return model.ExecutionResult{}, false
	}
	return *e.last, true
}

// Reset stops waiting for an outstanding result without any remote effect.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executing = false
}
