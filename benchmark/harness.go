// Package benchmark runs a Variant through its lifecycle and turns it into a
// series of per-iteration latencies and an Outcome.
//
// A run resolves the variant's object, checks the payload size, prepares the
// variant, runs the warm-up iterations, measures each iteration and tears the
// variant down. The first hook failure stops the run; teardown is still
// attempted and the samples gathered so far are kept.
package benchmark

import (
	"fmt"
	"time"

	"github.com/cloudflare/p11bench/errors"
	"github.com/cloudflare/p11bench/log"
	"github.com/cloudflare/p11bench/token"
	"github.com/jmhodges/clock"
)

// Request describes one run.
type Request struct {
	Session *token.Session
	Payload []byte
	// Iterations is the number of measured iterations.
	Iterations int
	// Skip is the number of warm-up iterations run before measuring.
	Skip int
	// ThreadIndex is the worker index, or NoThread to use the labels as
	// configured. The zero value is worker 0, whose labels end in "-0", so a
	// run that is not replicated must set NoThread.
	ThreadIndex int
	// Clock defaults to the system clock.
	Clock clock.Clock
}

// Result is what a run produced.
type Result struct {
	Name        string
	Label       string
	ThreadIndex int
	// Samples holds one duration per measured iteration, in execution order.
	Samples []time.Duration
	Outcome Outcome
	// Teardown is the teardown failure, if any. It is reported whatever the
	// outcome.
	Teardown error
	// Calls counts the invocations of Run, warm-up included.
	Calls int
}

type run struct {
	v      Variant
	s      *token.Session
	target Target
	res    Result
	log    *log.Logger
}

// Execute runs v as described by req. v must not be shared with another
// goroutine during the run.
func Execute(v Variant, req Request) Result {
	clk := req.Clock
	if clk == nil {
		clk = clock.Default()
	}
	label := ThreadedLabel(v.Label(), req.ThreadIndex)
	r := &run{
		v: v,
		s: req.Session,
		target: Target{
			ThreadIndex: req.ThreadIndex,
			Label:       label,
			Iterations:  req.Skip + req.Iterations,
		},
		res: Result{
			Name:        v.Name(),
			Label:       label,
			ThreadIndex: req.ThreadIndex,
		},
		log: log.WithPrefix(v.Name() + "/" + label),
	}

	if v.ObjectClass() != token.None {
		h, err := token.FindOne(r.s, v.ObjectClass(), label)
		if err != nil {
			return r.finish(Classify(err))
		}
		r.target.Object, r.target.HasObject = h, true
	}

	if !v.IsPayloadSupported(len(req.Payload)) {
		r.log.Debugf("payload of %d bytes refused", len(req.Payload))
		return r.finish(PayloadUnsupported(len(req.Payload)))
	}
	v.SetPayload(req.Payload)

	r.log.Debugf("preparing, %d iterations after %d warm-up", req.Iterations, req.Skip)
	if err := v.Prepare(r.s, r.target); err != nil {
		return r.abort("prepare", err)
	}

	tm := NewTimer(clk)
	for i := 0; i < req.Skip; i++ {
		tm.Reset()
		r.res.Calls++
		if err := v.Run(r.s, tm); err != nil {
			return r.abort("warm-up", err)
		}
		if err := v.Cleanup(r.s); err != nil {
			return r.abort("cleanup", err)
		}
	}

	observer := iterationSeconds.WithLabelValues(v.Name())
	r.res.Samples = make([]time.Duration, 0, req.Iterations)
	for i := 0; i < req.Iterations; i++ {
		tm.Reset()
		r.res.Calls++
		err := v.Run(r.s, tm)
		tm.Suspend()
		if err != nil {
			return r.abort("iteration", err)
		}
		sample := tm.Elapsed()
		r.res.Samples = append(r.res.Samples, sample)
		iterationsTotal.WithLabelValues(v.Name()).Inc()
		observer.Observe(sample.Seconds())
		if err := v.Cleanup(r.s); err != nil {
			return r.abort("cleanup", err)
		}
	}

	r.teardown()
	return r.finish(OK())
}

// abort classifies err and tears the variant down.
func (r *run) abort(stage string, err error) Result {
	outcome := Classify(err)
	r.log.Warningf("%s failed after %d samples: %v", stage, len(r.res.Samples), err)
	r.teardown()
	return r.finish(outcome)
}

func (r *run) teardown() {
	r.log.Debugf("tearing down")
	if err := r.v.Teardown(r.s, r.target); err != nil {
		r.log.Errorf("teardown failed: %v", err)
		r.res.Teardown = errors.New(errors.TeardownError, errors.Unknown, fmt.Errorf("%s teardown: %w", r.v.Name(), err))
	}
}

func (r *run) finish(o Outcome) Result {
	r.res.Outcome = o
	outcomesTotal.WithLabelValues(r.v.Name(), o.Kind().String()).Inc()
	return r.res
}
