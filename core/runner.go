package core

import "context"

// TaskRunner is implemented by anything that can execute a task end to end:
// a single agent or a team.
//
// Semantics:
//   - Run blocks until completion and returns the transcript (streaming
//     chunks excluded).
//   - RunStream returns immediately. The messages channel delivers every
//     message in production order, streaming chunks included, and is closed
//     when the run ends. The error channel carries at most one terminal error
//     then closes (buffered size 1).
type TaskRunner interface {
	Run(ctx context.Context, task string) (*TaskResult, error)
	RunStream(ctx context.Context, task string) (<-chan Message, <-chan error)
}

// Collect drains a message/error channel pair into a TaskResult.
func Collect(msgs <-chan Message, errs <-chan error) (*TaskResult, error) {
	res := &TaskResult{}
	var runErr error
	for msgs != nil || errs != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if !m.IsChunk() {
				res.Messages = append(res.Messages, m)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && runErr == nil {
				runErr = err
			}
		}
	}
	if runErr != nil {
		return res, runErr
	}
	return res, nil
}
