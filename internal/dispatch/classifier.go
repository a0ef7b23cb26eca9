// Package dispatch contains the error classifier and the batch dispatcher:
// the protocol-agnostic core that fans a payload out to a page of devices
// under bounded concurrency and one shared retry policy.
package dispatch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// Classify is the mandatory translation boundary between adapters and the
// orchestration layers. Adapters tag their own errors with a taxonomy kind;
// anything that slips through untagged is mapped here and nowhere else.
func Classify(err error) (notify.ErrorKind, time.Duration) {
	var nErr *notify.Error
	if errors.As(err, &nErr) {
		return nErr.Kind, nErr.RetryAfter
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return notify.KindNetworkTimeout, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return notify.KindNetworkTimeout, 0
	}

	return notify.KindUnknown, 0
}

// Retryable reports whether the dispatcher may re-attempt a send that failed
// with this kind. Everything else is a terminal per-notification failure.
func Retryable(kind notify.ErrorKind) bool {
	switch kind {
	case notify.KindRateLimited, notify.KindServerError, notify.KindNetworkTimeout:
		return true
	}
	return false
}

// Fatal reports whether the kind is a configuration-level failure that
// aborts the whole job: no amount of per-device retry fixes bad credentials.
func Fatal(kind notify.ErrorKind) bool {
	return kind == notify.KindAuthFailed
}
