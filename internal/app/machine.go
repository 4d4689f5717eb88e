/**
 * @description
 * This file implements the per-code retry state machine. One machine run takes
 * a single code from first submission to a terminal outcome, retrying
 * transient failures within a region and rotating to the next region when a
 * region is exhausted or answers with an unclassifiable message.
 */

package app

import (
	"context"
	"math/rand"
	"time"

	"github.com/redeemworks/redeem-service/internal/domain"
)

// submitFunc performs one redemption attempt and returns the raw upstream
// message. Transport errors are treated as transient by the machine.
type submitFunc func(ctx context.Context, code string, region domain.Region) (string, error)

// delayFunc waits between attempts; it must return early with ctx.Err() when
// the context is cancelled.
type delayFunc func(ctx context.Context, verdict Verdict) error

// codeMachine drives one code to a terminal outcome across the configured
// region rotation.
type codeMachine struct {
	regions      []domain.Region
	transientCap int // retries within one region before it counts as exhausted
	cycleCap     int // full rotations before giving up; 0 means unbounded
	submit       submitFunc
	delay        delayFunc
}

// codeOutcome is the terminal result of one machine run.
type codeOutcome struct {
	Verdict    Verdict       // VerdictSuccess, VerdictInvalid, or VerdictUnknown when rotation gave up
	RawMessage string        // last upstream message
	Region     domain.Region // region the terminal attempt ran against
	Attempts   int
}

func newCodeMachine(regions []domain.Region, transientCap, cycleCap int, submit submitFunc, delay delayFunc) *codeMachine {
	if delay == nil {
		delay = randomAttemptDelay
	}
	return &codeMachine{
		regions:      regions,
		transientCap: transientCap,
		cycleCap:     cycleCap,
		submit:       submit,
		delay:        delay,
	}
}

// run processes one code until it reaches a terminal verdict, the rotation
// budget is spent, or ctx is done. The in-flight attempt is never interrupted;
// cancellation is observed between attempts.
func (m *codeMachine) run(ctx context.Context, code string) (codeOutcome, error) {
	outcome := codeOutcome{Verdict: VerdictUnknown}

	regionIdx := 0
	retries := 0
	cycles := 0

	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		region := m.regions[regionIdx]
		outcome.Region = region
		outcome.Attempts++

		raw, err := m.submit(ctx, code, region)
		verdict := VerdictTransient
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			raw = err.Error()
		} else {
			verdict = Classify(raw)
		}
		outcome.RawMessage = raw

		switch verdict {
		case VerdictSuccess, VerdictInvalid:
			outcome.Verdict = verdict
			return outcome, nil

		case VerdictTransient:
			if retries < m.transientCap {
				retries++
				if err := m.delay(ctx, verdict); err != nil {
					return outcome, err
				}
				continue
			}
			// Region exhausted its transient budget; treat like Unknown
			// and move on.
			fallthrough

		case VerdictUnknown:
			retries = 0
			regionIdx++
			if regionIdx == len(m.regions) {
				regionIdx = 0
				cycles++
				if m.cycleCap > 0 && cycles >= m.cycleCap {
					outcome.Verdict = VerdictUnknown
					return outcome, nil
				}
			}
			if err := m.delay(ctx, verdict); err != nil {
				return outcome, err
			}
		}
	}
}

// randomAttemptDelay waits a small randomized interval between attempts so
// retries do not hammer the upstream in lockstep.
func randomAttemptDelay(ctx context.Context, verdict Verdict) error {
	base := 2 * time.Second
	if verdict == VerdictTransient {
		base = 3 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
