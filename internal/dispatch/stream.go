package dispatch

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/retry"
)

// openStream is a provider stream that has produced its first event.
type openStream struct {
	first  string
	done   bool
	events <-chan domain.StreamEvent
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
}

func (s *openStream) close(err error) {
	s.cancel()
	endSpan(s.span, err)
}

// Stream runs call and yields text fragments as they arrive. Chain fallback
// happens only while no fragment has been yielded. After that, a failure is
// yielded once as the terminal error. The sequence ends without an error on
// normal completion. Stopping the iteration cancels the provider call.
func (e *Engine) Stream(ctx context.Context, call Call) iter.Seq2[domain.Fragment, error] {
	return func(yield func(domain.Fragment, error) bool) {
		pl, err := e.prepare(call)
		if err != nil {
			yield(domain.Fragment{}, err)
			return
		}

		var failures []domain.ModelFailure
		for i, spec := range pl.chain {
			pc, err := e.providerCall(ctx, pl, spec)
			if err != nil {
				yield(domain.Fragment{}, err)
				return
			}

			st, err := retry.Do(ctx, e.retry, func(ctx context.Context, attempt int) (*openStream, error) {
				return e.open(ctx, pl, pc, attempt)
			})
			if err != nil {
				if ctx.Err() != nil {
					yield(domain.Fragment{}, ctx.Err())
					return
				}
				failures = append(failures, domain.ModelFailure{Model: spec.ID, Err: err})
				if !fallbackEligible(err) {
					yield(domain.Fragment{}, err)
					return
				}
				if i < len(pl.chain)-1 {
					e.logger.Warn("stream failed before first fragment, falling back to next in chain",
						slog.String("provider", pl.identity),
						slog.String("model", spec.ID),
						slog.String("next_model", pl.chain[i+1].ID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}

			// Committed to this model: no fallback from here on.
			e.relay(ctx, st, pl, spec.ID, yield)
			return
		}

		exhausted := domain.ErrAllModelsExhausted(pl.identity, failures)
		e.logger.Error("all models failed",
			slog.String("provider", pl.identity),
			slog.Int("models", len(failures)),
			slog.String("error", exhausted.Error()),
		)
		yield(domain.Fragment{}, exhausted)
	}
}

// open starts a provider stream and waits for its first event so that
// pre-first-fragment failures stay retryable.
func (e *Engine) open(ctx context.Context, pl *plan, pc *domain.ProviderCall, attempt int) (*openStream, error) {
	ctx, span := e.startSpan(ctx, "dispatch.stream", pl, pc.Model, attempt)
	ctx, cancel := context.WithTimeout(ctx, pl.timeout)

	fail := func(err error) (*openStream, error) {
		cancel()
		endSpan(span, err)
		return nil, err
	}

	events, err := pl.provider.Stream(ctx, pc)
	if err != nil {
		return fail(e.timeoutAsTransient(pl, pc, err))
	}

	select {
	case ev, ok := <-events:
		st := &openStream{events: events, ctx: ctx, cancel: cancel, span: span}
		if !ok {
			st.done = true
			return st, nil
		}
		if ev.Err != nil {
			return fail(e.timeoutAsTransient(pl, pc, ev.Err))
		}
		st.first = ev.Text
		return st, nil
	case <-ctx.Done():
		return fail(e.timeoutAsTransient(pl, pc, ctx.Err()))
	}
}

func (e *Engine) timeoutAsTransient(pl *plan, pc *domain.ProviderCall, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && domain.TypeOf(err) == "" {
		return domain.ErrTransient("request timed out").
			WithCode(domain.ErrorCodeTimeout).
			WithModel(pl.identity, pc.Model).
			WithCause(err)
	}
	return err
}

// relay forwards the committed stream to the consumer.
func (e *Engine) relay(ctx context.Context, st *openStream, pl *plan, model string, yield func(domain.Fragment, error) bool) {
	if st.done {
		st.close(nil)
		return
	}
	if st.first != "" && !yield(domain.Fragment{Text: st.first}, nil) {
		st.close(nil)
		return
	}

	for ev := range st.events {
		if ev.Err != nil {
			err := ev.Err
			if ctx.Err() == nil {
				e.logger.Error("stream failed after first fragment",
					slog.String("provider", pl.identity),
					slog.String("model", model),
					slog.String("error", err.Error()),
				)
			}
			st.close(err)
			yield(domain.Fragment{}, err)
			return
		}
		if ev.Text == "" {
			continue
		}
		if !yield(domain.Fragment{Text: ev.Text}, nil) {
			st.close(nil)
			return
		}
	}

	// The provider closed the channel. A cancelled parent or an expired call
	// deadline is reported so the consumer can tell an aborted stream from a
	// complete one.
	if err := ctx.Err(); err != nil {
		st.close(err)
		yield(domain.Fragment{}, err)
		return
	}
	if err := st.ctx.Err(); err != nil {
		err = domain.ErrTransient("stream timed out").
			WithCode(domain.ErrorCodeTimeout).
			WithModel(pl.identity, model).
			WithCause(err)
		st.close(err)
		yield(domain.Fragment{}, err)
		return
	}
	st.close(nil)
}
