package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
	"metronome/internal/correlator"
	"metronome/internal/sequence"
	"metronome/internal/transport"
)

// iterate runs one iteration on slot. It returns an error when the slot
// should end: the run is over, ctx ended or fail-fast aborted the run.
func (e *Engine) iterate(ctx context.Context, slot int) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return errSlotDone
	}
	mu, ok := e.sched.NewMeasurementUnit()
	if !ok {
		return errSlotDone
	}
	e.sink.IterationStarted()

	err := e.execute(ctx, mu, e.variables(mu.Iteration(), slot))
	if err != nil {
		mu.SetFailure(err)
		mu.AppendResult(core.FailuresResult, int64(1))
		var se *core.SendError
		if errors.As(err, &se) {
			e.sink.SendError(se.Phase)
		}
		log.WithError(err).WithField("slot", slot).Debug("Iteration failed")
	} else {
		mu.AppendResult(core.FailuresResult, int64(0))
	}
	e.sink.IterationFinished(mu.TotalTime(), err != nil)
	e.sched.Report(mu)

	if err != nil && e.cfg.FailFast {
		e.abort(err)
		return err
	}
	return nil
}

func (e *Engine) variables(iteration int64, slot int) core.Variables {
	if e.seqs != nil {
		return e.seqs.Snapshot(iteration, slot)
	}
	vars := core.NewVariables()
	vars.Set(sequence.IterationKey, strconv.FormatInt(iteration, 10))
	vars.Set(sequence.SlotKey, strconv.Itoa(slot))
	return vars
}

// execute performs the send sequence of one iteration. The transport is
// released on every path.
func (e *Engine) execute(ctx context.Context, mu *core.MeasurementUnit, vars core.Variables) (err error) {
	it := mu.Iteration()
	t, err := e.pool.Acquire(ctx)
	if err != nil {
		return &core.SendError{Phase: core.PhaseAcquire, Iteration: it, Err: err}
	}
	defer e.release(t)
	defer func() {
		if r := recover(); r != nil {
			if mu.IsMeasuring() {
				mu.StopMeasure()
			}
			err = &core.SendError{Phase: core.PhaseSend, Iteration: it, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	_, async := t.(core.ReplySource)
	async = async && e.corr != nil

	for _, tmpl := range e.cfg.Messages {
		msg, err := tmpl.Render(vars)
		if err != nil {
			return &core.SendError{Phase: core.PhaseRender, Iteration: it, Err: err}
		}
		msg.SetHeader(MessageNumberHeader, strconv.FormatInt(it, 10))

		if err := t.PreSend(ctx, msg); err != nil {
			return &core.SendError{Phase: core.PhasePreSend, Iteration: it, Err: err}
		}
		for k := 0; k < tmpl.Multiplicity; k++ {
			if err := e.send(ctx, t, msg, mu, async); err != nil {
				return err
			}
		}
		if err := t.PostSend(ctx, msg); err != nil {
			return &core.SendError{Phase: core.PhasePostSend, Iteration: it, Err: err}
		}
	}
	return nil
}

// send performs one timed send. For asynchronous transports the measurement
// includes waiting for the correlated reply.
func (e *Engine) send(ctx context.Context, t core.Transport, msg *core.Message, mu *core.MeasurementUnit, async bool) error {
	it := mu.Iteration()
	var pending *correlator.Pending
	if async {
		p, err := e.corr.RegisterRequest(msg)
		if err != nil {
			return &core.SendError{Phase: core.PhaseSend, Iteration: it, Err: err}
		}
		pending = p
	}

	mu.StartMeasure()
	resp, err := t.Send(ctx, msg, mu)
	if err != nil {
		mu.StopMeasure()
		if pending != nil {
			pending.Cancel()
		}
		return &core.SendError{Phase: core.PhaseSend, Iteration: it, Err: err}
	}
	if pending != nil {
		resp, err = pending.Wait(ctx)
		mu.StopMeasure()
		if err != nil {
			return &core.SendError{Phase: core.PhaseReply, Iteration: it, Err: err}
		}
	} else {
		mu.StopMeasure()
	}

	if e.validator != nil {
		if err := e.validator.Validate(msg, resp); err != nil {
			return &core.SendError{Phase: core.PhaseValidate, Iteration: it, Err: err}
		}
	}
	return nil
}

func (e *Engine) release(t core.Transport) {
	if err := e.pool.Release(context.Background(), t); err != nil {
		log.WithError(err).Error("Unable to return transport to the pool")
	}
}

// Correlated wires replies of asynchronous transports built by f into c.
func Correlated(f transport.Factory, c *correlator.Correlator) transport.Factory {
	if c == nil {
		return f
	}
	return func(ctx context.Context) (core.Transport, error) {
		t, err := f(ctx)
		if err != nil {
			return nil, err
		}
		if rs, ok := t.(core.ReplySource); ok {
			rs.OnReply(func(resp *core.Response) {
				c.RegisterResponse(resp)
			})
		}
		return t, nil
	}
}
