package stateform

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Submission lifecycle states.
const (
	SubmissionIdle       = "idle"
	SubmissionSubmitting = "submitting"
)

const (
	submissionEventBegin  = "begin"
	submissionEventSettle = "settle"
)

// submissionLifecycle tracks whether a submit callback is in flight. The
// IsSubmitting flag of the state follows it: it turns on before the
// lifecycle begins and turns off after it settles.
type submissionLifecycle struct {
	fsm    *fsm.FSM
	logger *zap.SugaredLogger
}

func newSubmissionLifecycle(logger *zap.Logger) *submissionLifecycle {
	l := &submissionLifecycle{logger: logger.Sugar()}
	l.fsm = fsm.NewFSM(
		SubmissionIdle,
		fsm.Events{
			{Name: submissionEventBegin, Src: []string{SubmissionIdle}, Dst: SubmissionSubmitting},
			{Name: submissionEventSettle, Src: []string{SubmissionSubmitting}, Dst: SubmissionIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debugf("submission %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return l
}

// begin fails when a submission is already in flight.
func (l *submissionLifecycle) begin(ctx context.Context) error {
	return l.fsm.Event(context.WithoutCancel(ctx), submissionEventBegin)
}

func (l *submissionLifecycle) settle(ctx context.Context) {
	if err := l.fsm.Event(context.WithoutCancel(ctx), submissionEventSettle); err != nil {
		l.logger.Warnf("settling submission: %v", err)
	}
}

func (l *submissionLifecycle) current() string {
	return l.fsm.Current()
}
