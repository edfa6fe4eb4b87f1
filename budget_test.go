package pacer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBudget(limits map[string]int, groups map[string][]string, opts ...BudgetOption) (*Budget, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 14, 22, 0, 0, 0, time.UTC)}
	ms := NewMemStore()
	ms.now = clock.Now
	opts = append([]BudgetOption{withClock(clock.Now), WithLocation(time.UTC)}, opts...)
	return NewBudget(ms, limits, groups, opts...), clock
}

func TestBudgetRegisterAndExhausted(t *testing.T) {
	b, _ := newTestBudget(map[string]int{"polygon": 2}, nil)

	exhausted, err := b.Exhausted("polygon")
	require.NoError(t, err)
	assert.False(t, exhausted)

	for i := 1; i <= 2; i++ {
		n, err := b.Register("polygon")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	exhausted, err = b.Exhausted("polygon")
	require.NoError(t, err)
	assert.True(t, exhausted)

	// no limit configured
	for i := 0; i < 10; i++ {
		_, err := b.Register("coingecko")
		require.NoError(t, err)
	}
	exhausted, err = b.Exhausted("coingecko")
	require.NoError(t, err)
	assert.False(t, exhausted)
}

func TestBudgetDayRollover(t *testing.T) {
	b, clock := newTestBudget(map[string]int{"polygon": 1}, nil)

	_, err := b.Register("polygon")
	require.NoError(t, err)
	exhausted, _ := b.Exhausted("polygon")
	assert.True(t, exhausted)

	clock.Add(3 * time.Hour)
	n, err := b.Count("polygon")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	exhausted, _ = b.Exhausted("polygon")
	assert.False(t, exhausted)

	n, err = b.Register("polygon")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBudgetSharedStoreRollover(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 14, 22, 0, 0, 0, time.UTC)}
	ms := NewMemStore()
	ms.now = clock.Now
	opts := []BudgetOption{withClock(clock.Now), WithLocation(time.UTC)}
	budgets := []*Budget{
		NewBudget(ms, map[string]int{"polygon": 100}, nil, opts...),
		NewBudget(ms, map[string]int{"polygon": 100}, nil, opts...),
	}

	for _, b := range budgets {
		_, err := b.Register("polygon")
		require.NoError(t, err)
	}
	n, err := budgets[0].Count("polygon")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// past midnight, every instance races to open the new day
	clock.Add(2*time.Hour + time.Minute)
	const calls = 40
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(b *Budget) {
			defer wg.Done()
			_, err := b.Register("polygon")
			assert.NoError(t, err)
		}(budgets[i%2])
	}
	wg.Wait()

	for _, b := range budgets {
		n, err := b.Count("polygon")
		require.NoError(t, err)
		assert.Equal(t, calls, n)
	}
}

func TestBudgetNextRotation(t *testing.T) {
	groups := map[string][]string{"crypto": {"coingecko", "alphavantage", "brapi"}}
	b, _ := newTestBudget(map[string]int{"alphavantage": 1}, groups)

	var got []string
	for i := 0; i < 4; i++ {
		p, err := b.Next("crypto")
		require.NoError(t, err)
		got = append(got, p)
	}
	assert.Equal(t, []string{"coingecko", "alphavantage", "brapi", "coingecko"}, got)

	_, err := b.Register("alphavantage")
	require.NoError(t, err)
	got = got[:0]
	for i := 0; i < 3; i++ {
		p, _ := b.Next("crypto")
		got = append(got, p)
	}
	assert.Equal(t, []string{"brapi", "coingecko", "brapi"}, got)
}

func TestBudgetNextAllExhausted(t *testing.T) {
	groups := map[string][]string{"news": {"gnews", "fmp"}}
	b, _ := newTestBudget(map[string]int{"gnews": 1, "fmp": 1}, groups)
	b.Register("gnews")
	b.Register("fmp")

	for i := 0; i < 3; i++ {
		p, err := b.Next("news")
		require.NoError(t, err)
		assert.Equal(t, "gnews", p)
	}
}

func TestBudgetNextUnknownGroup(t *testing.T) {
	groups := map[string][]string{"stock_market": {"brapi", "yahoo"}}
	b, _ := newTestBudget(nil, groups)
	_, err := b.Next("bonds")
	assert.True(t, errors.Is(err, ErrUnknownGroup))

	b, _ = newTestBudget(nil, groups, WithFallbackGroup("stock_market"))
	p, err := b.Next("bonds")
	require.NoError(t, err)
	assert.Equal(t, "brapi", p)
}

func TestBudgetNoRotation(t *testing.T) {
	groups := map[string][]string{"economic": {"fred", "alphavantage"}}
	b, _ := newTestBudget(nil, groups, WithRotation(false))
	for i := 0; i < 3; i++ {
		p, _ := b.Next("economic")
		assert.Equal(t, "fred", p)
	}
}

func TestBudgetUsage(t *testing.T) {
	groups := map[string][]string{"news": {"gnews"}}
	b, _ := newTestBudget(map[string]int{"fred": 100, "gnews": 5}, groups)
	b.Register("gnews")
	b.Register("gnews")
	b.Register("fred")
	b.Register("coingecko")

	u, err := b.Usage()
	require.NoError(t, err)
	assert.Equal(t, 3, u.TotalCalls)
	assert.Equal(t, map[string]int{"fred": 1, "gnews": 2}, u.Calls)
	assert.Equal(t, map[string]int{"fred": 99, "gnews": 3}, u.Remaining)
	assert.Equal(t, []string{"fred", "gnews"}, b.Providers())
}

type failingCounters struct{}

var errCounters = errors.New("counters unavailable")

func (failingCounters) IncrSince(string, time.Time, time.Duration) (int, error) {
	return 0, errCounters
}
func (failingCounters) GetTs(string) (int, time.Time, error) { return 0, time.Time{}, errCounters }

func TestBudgetStoreErrors(t *testing.T) {
	b := NewBudget(failingCounters{}, map[string]int{"fred": 1}, map[string][]string{"economic": {"fred"}})
	_, err := b.Register("fred")
	assert.Equal(t, errCounters, err)
	_, err = b.Usage()
	assert.Equal(t, errCounters, err)

	// unreadable counters do not block rotation
	p, err := b.Next("economic")
	require.NoError(t, err)
	assert.Equal(t, "fred", p)
}
