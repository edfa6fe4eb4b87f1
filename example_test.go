package pacer_test

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/quotepacer/pacer"
)

var quoteHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("PETR4 38.12"))
})

// ExampleThrottle runs three lookups through a throttle that starts at
// most one every 100ms. Results come back in submission order.
func ExampleThrottle() {
	th := pacer.New(pacer.Delay(100*time.Millisecond), 10, pacer.WithName("brapi"))
	defer th.Close()

	var futures []*pacer.Future
	for _, sym := range []string{"PETR4", "VALE3", "ITUB4"} {
		sym := sym
		f, err := th.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "quote " + sym, nil
		})
		if err != nil {
			log.Fatal(err)
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		v, err := f.Wait(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(v)
	}
	// Output:
	// quote PETR4
	// quote VALE3
	// quote ITUB4
}

// ExampleHTTPThrottle serves an http.Handler at most twice per second,
// queuing up to 20 requests and rejecting the rest with 429.
func ExampleHTTPThrottle() {
	th := pacer.New(pacer.PerSec(2), 20)
	defer th.Close()

	h := pacer.HTTPThrottle{Throttle: th}
	http.ListenAndServe(":8080", h.Handle(quoteHandler))
}

// ExampleBudget rotates between providers of a group, skipping those that
// used up their daily calls.
func ExampleBudget() {
	b := pacer.NewBudget(nil,
		map[string]int{"polygon": 1, "finnhub": 60},
		map[string][]string{"stock_market": {"polygon", "finnhub"}})

	for i := 0; i < 3; i++ {
		p, err := b.Next("stock_market")
		if err != nil {
			log.Fatal(err)
		}
		if _, err := b.Register(p); err != nil {
			log.Fatal(err)
		}
		fmt.Println(p)
	}
	// Output:
	// polygon
	// finnhub
	// finnhub
}
