package dispatch

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// ProviderSource selects the adapter that carries a send. Satisfied by
// *registry.Registry.
type ProviderSource interface {
	ForPlatform(platform notify.Platform) (notify.Adapter, error)
	Resolve(ctx context.Context, preferred []string) (notify.Adapter, error)
}

// PageResolver yields device pages. Satisfied by *target.Resolver.
type PageResolver interface {
	ResolvePage(ctx context.Context, criteria notify.Criteria, pageSize int, cursor string) (notify.Page, error)
}

// Config bounds the dispatcher's concurrency and retry behavior.
type Config struct {
	// BatchSize is the resolver page size. Defaults to 50.
	BatchSize int
	// MaxConcurrency caps in-flight sends within a page. Defaults to
	// BatchSize (full-page parallelism); set lower to protect downstream
	// rate limits.
	MaxConcurrency int
	// MaxRetries is how many times a retryable failure is re-attempted
	// beyond the first try. Defaults to 3.
	MaxRetries int
	// BackoffBase and BackoffMultiplier shape the exponential backoff
	// between attempts; BackoffMax caps it. A platform-supplied retry-after
	// takes precedence.
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = c.BatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = 2.0
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	return c
}

// Options carries the per-job dispatch knobs.
type Options struct {
	// Preferred is an ordered provider fallback chain overriding the
	// platform default. Resolved once at job start; a provider switch never
	// re-dispatches mid-job.
	Preferred []string
	// Topic, when set, attempts one native broadcast through the platform's
	// adapter before falling back to per-device iteration.
	Topic string
	// TopicPlatform names the adapter that carries the broadcast.
	TopicPlatform notify.Platform
}

// Dispatcher drives per-page concurrent delivery. It holds no per-job state:
// one Dispatcher serves all jobs.
type Dispatcher struct {
	providers ProviderSource
	cfg       Config
	logger    *slog.Logger
}

func New(providers ProviderSource, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		providers: providers,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "Dispatcher"),
	}
}

// Dispatch returns an iterator over pages of results. Each iteration pulls
// one resolver page, dispatches it concurrently, and waits for every result
// before the next pull, so in-flight work is capped at one page regardless
// of fleet size. A non-nil error ends iteration: either the context was
// cancelled between pages, the resolver failed, or a fatal configuration
// error (auth failure, no provider) aborted the job.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	resolver PageResolver,
	criteria notify.Criteria,
	payload *notify.Payload,
	opts Options,
) iter.Seq2[[]notify.Result, error] {
	return func(yield func([]notify.Result, error) bool) {
		// Job-level provider override is resolved once, up front.
		var override notify.Adapter
		if len(opts.Preferred) > 0 {
			a, err := d.providers.Resolve(ctx, opts.Preferred)
			if err != nil {
				yield(nil, err)
				return
			}
			override = a
		}

		if opts.Topic != "" {
			results, handled, err := d.dispatchTopic(ctx, override, opts, payload)
			if err != nil {
				yield(nil, err)
				return
			}
			if handled {
				yield(results, nil)
				return
			}
			// Adapter has no native broadcast; iterate devices below.
		}

		cursor := ""
		for {
			// Cancellation is observed between pages only; an in-flight
			// page always runs to completion.
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := resolver.ResolvePage(ctx, criteria, d.cfg.BatchSize, cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Targets) == 0 && page.NextCursor == "" {
				return
			}

			results, fatal := d.dispatchPage(ctx, override, page.Targets, payload)
			if fatal != nil {
				yield(results, fatal)
				return
			}
			if !yield(results, nil) {
				return
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// dispatchTopic tries the native broadcast fast path. handled is false when
// the adapter lacks topic support and the caller should fall back to
// per-device dispatch.
func (d *Dispatcher) dispatchTopic(
	ctx context.Context,
	override notify.Adapter,
	opts Options,
	payload *notify.Payload,
) (results []notify.Result, handled bool, fatal error) {
	adapter := override
	if adapter == nil {
		a, err := d.providers.ForPlatform(opts.TopicPlatform)
		if err != nil {
			return nil, false, err
		}
		adapter = a
	}

	res := d.sendWithRetry(ctx, adapter, notify.DeviceTarget{DeviceID: "topic:" + opts.Topic}, payload,
		func(sendCtx context.Context) (string, error) {
			return adapter.SendTopic(sendCtx, opts.Topic, payload)
		})

	if res.unsupported {
		return nil, false, nil
	}
	if Fatal(res.ErrorKind) {
		return []notify.Result{res.Result}, false, notify.NewError(res.ErrorKind, res.ErrorDetail, nil)
	}
	return []notify.Result{res.Result}, true, nil
}

// dispatchPage sends to every target in the page under the concurrency cap
// and blocks until all results are in. fatal is non-nil when the page
// surfaced a configuration-level failure.
func (d *Dispatcher) dispatchPage(
	ctx context.Context,
	override notify.Adapter,
	targets []notify.DeviceTarget,
	payload *notify.Payload,
) ([]notify.Result, error) {
	var (
		mu      sync.Mutex
		results = make([]notify.Result, 0, len(targets))
		fatal   error
	)

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrency)

	for _, tgt := range targets {
		g.Go(func() error {
			res := d.sendToTarget(ctx, override, tgt, payload)

			mu.Lock()
			results = append(results, res.Result)
			if fatal == nil && Fatal(res.ErrorKind) {
				fatal = notify.NewError(res.ErrorKind, res.ErrorDetail, nil)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, fatal
}

func (d *Dispatcher) sendToTarget(
	ctx context.Context,
	override notify.Adapter,
	tgt notify.DeviceTarget,
	payload *notify.Payload,
) attemptResult {
	adapter := override
	if adapter == nil {
		a, err := d.providers.ForPlatform(tgt.Platform)
		if err != nil {
			// A platform without an adapter is a wiring problem, not a
			// device problem: abort rather than fail the fleet one by one.
			return attemptResult{Result: notify.Result{
				DeviceID:    tgt.DeviceID,
				Platform:    tgt.Platform,
				ErrorKind:   notify.KindAuthFailed,
				ErrorDetail: err.Error(),
				Attempt:     1,
			}}
		}
		adapter = a
	}

	return d.sendWithRetry(ctx, adapter, tgt, payload,
		func(sendCtx context.Context) (string, error) {
			return adapter.Send(sendCtx, tgt, payload)
		})
}

type attemptResult struct {
	notify.Result
	unsupported bool
}

// sendWithRetry runs the attempt loop for one destination: validate, send,
// classify, and re-attempt retryable failures with backoff, honoring a
// platform-supplied retry-after. The returned Result is the final attempt;
// its Attempt field carries the 1-based attempt count.
func (d *Dispatcher) sendWithRetry(
	ctx context.Context,
	adapter notify.Adapter,
	tgt notify.DeviceTarget,
	payload *notify.Payload,
	send func(ctx context.Context) (string, error),
) attemptResult {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BackoffBase
	bo.Multiplier = d.cfg.BackoffMultiplier
	bo.MaxInterval = d.cfg.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	// In-flight work is never interrupted by job cancellation; only the
	// adapter's own per-call timeout bounds a send.
	sendCtx := context.WithoutCancel(ctx)

	maxAttempts := d.cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		// Validated before every adapter invocation: platform data may
		// differ per device, so once per job is not enough.
		if err := payload.Validate(); err != nil {
			kind, _ := Classify(err)
			if kind != notify.KindPayloadTooLarge {
				kind = notify.KindBadRequest
			}
			return attemptResult{Result: notify.Result{
				DeviceID:    tgt.DeviceID,
				Platform:    tgt.Platform,
				ErrorKind:   kind,
				ErrorDetail: err.Error(),
				Attempt:     attempt,
			}}
		}

		id, err := send(sendCtx)
		if err == nil {
			return attemptResult{Result: notify.Result{
				DeviceID:  tgt.DeviceID,
				Platform:  tgt.Platform,
				Success:   true,
				MessageID: id,
				Attempt:   attempt,
			}}
		}
		if errors.Is(err, notify.ErrTopicUnsupported) {
			return attemptResult{
				Result:      notify.Result{DeviceID: tgt.DeviceID, Platform: tgt.Platform, ErrorKind: notify.KindUnknown, Attempt: attempt},
				unsupported: true,
			}
		}

		kind, retryAfter := Classify(err)
		res := notify.Result{
			DeviceID:    tgt.DeviceID,
			Platform:    tgt.Platform,
			ErrorKind:   kind,
			ErrorDetail: err.Error(),
			RetryAfter:  retryAfter,
			Attempt:     attempt,
		}

		if !Retryable(kind) || Fatal(kind) || attempt >= maxAttempts {
			return attemptResult{Result: res}
		}

		wait := bo.NextBackOff()
		if retryAfter > 0 {
			wait = retryAfter
		}
		d.logger.Debug("Retrying send",
			"device_id", tgt.DeviceID, "kind", string(kind), "attempt", attempt, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attemptResult{Result: res}
		case <-timer.C:
		}
	}
}
