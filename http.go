package pacer

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
)

var (
	// DefaultDeniedHandler is the default DeniedHandler for an
	// HTTPThrottle. It returns a 429 status code with a generic message.
	DefaultDeniedHandler = http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue is full", http.StatusTooManyRequests)
	}))

	// DefaultError is the default Error function for an HTTPThrottle.
	// It returns a 500 status code with a generic message.
	DefaultError = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
)

// HTTPThrottle serializes HTTP requests through a Throttle. Each request
// becomes one job; the wrapped handler runs when the job is dispatched.
type HTTPThrottle struct {
	// DeniedHandler is called when the queue is full. If it is nil,
	// DefaultDeniedHandler is used.
	DeniedHandler http.Handler

	// Error is called when the job fails without running the handler to
	// completion: the throttle was closed, the client went away, or the
	// handler panicked. If it is nil, DefaultError is used.
	Error func(w http.ResponseWriter, r *http.Request, err error)

	// Throttle runs the requests. If it is nil, all requests are passed
	// through unthrottled.
	Throttle *Throttle
}

// Handle wraps an http.Handler. Rejected requests get a Retry-After
// header of one interval, rounded up to whole seconds.
func (t *HTTPThrottle) Handle(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.Throttle == nil {
			h.ServeHTTP(w, r)
			return
		}

		f, err := t.Throttle.Submit(r.Context(), func(ctx context.Context) (interface{}, error) {
			h.ServeHTTP(w, r.WithContext(ctx))
			return nil, nil
		})
		if errors.Is(err, ErrQueueFull) {
			setRetryAfter(w, t.Throttle)
			dh := t.DeniedHandler
			if dh == nil {
				dh = DefaultDeniedHandler
			}
			dh.ServeHTTP(w, r)
			return
		}
		if err == nil {
			// The handler owns w once dispatched, so the wait outlives the
			// request context; a job whose client left is skipped anyway.
			_, err = f.Wait(context.Background())
		}
		if err != nil {
			e := t.Error
			if e == nil {
				e = DefaultError
			}
			e(w, r, err)
		}
	})
}

func setRetryAfter(w http.ResponseWriter, t *Throttle) {
	d := t.Interval()
	if d <= 0 {
		return
	}
	vi := int(math.Ceil(d.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(vi))
}
