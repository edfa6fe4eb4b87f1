package pacer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownGroup is returned by Budget.Next for a group with no providers.
var ErrUnknownGroup = errors.New("pacer: unknown provider group")

// Budget counts calls per provider per calendar day and rotates between
// the providers of a group so that daily limits are spread out.
//
// Counters are kept in a CounterStore under "<prefix><provider>". A counter
// whose window started on an earlier day reads as zero and is reset on
// the next registered call.
type Budget struct {
	store    CounterStore
	limits   map[string]int
	groups   map[string][]string
	fallback string
	prefix   string
	rotate   bool
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger

	mu   sync.Mutex
	next map[string]int
}

// BudgetOption configures a Budget.
type BudgetOption func(*Budget)

// WithFallbackGroup names the group Next uses for unknown group names.
func WithFallbackGroup(group string) BudgetOption {
	return func(b *Budget) { b.fallback = group }
}

// WithRotation enables or disables rotation. Without rotation Next always
// returns the first provider of the group. Rotation is on by default.
func WithRotation(on bool) BudgetOption {
	return func(b *Budget) { b.rotate = on }
}

// WithKeyPrefix sets the prefix of counter keys, "budget:" by default.
func WithKeyPrefix(prefix string) BudgetOption {
	return func(b *Budget) { b.prefix = prefix }
}

// WithLocation sets the time zone calendar days are computed in.
func WithLocation(loc *time.Location) BudgetOption {
	return func(b *Budget) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithBudgetLogger sets the logger.
func WithBudgetLogger(l *zap.Logger) BudgetOption {
	return func(b *Budget) {
		if l != nil {
			b.logger = l
		}
	}
}

func withClock(now func() time.Time) BudgetOption {
	return func(b *Budget) { b.now = now }
}

// NewBudget creates a Budget. limits maps provider names to daily call
// limits; a provider without a positive limit is unlimited. groups maps
// a group name to its providers in rotation order. A nil store is
// replaced with a MemStore.
func NewBudget(store CounterStore, limits map[string]int, groups map[string][]string, opts ...BudgetOption) *Budget {
	if store == nil {
		store = NewMemStore()
	}
	b := &Budget{
		store:  store,
		limits: make(map[string]int, len(limits)),
		groups: make(map[string][]string, len(groups)),
		prefix: "budget:",
		rotate: true,
		loc:    time.Local,
		now:    time.Now,
		logger: zap.NewNop(),
		next:   make(map[string]int),
	}
	for k, v := range limits {
		b.limits[k] = v
	}
	for k, v := range groups {
		b.groups[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Limit returns the daily limit of provider, or 0 if it is unlimited.
func (b *Budget) Limit(provider string) int {
	if l := b.limits[provider]; l > 0 {
		return l
	}
	return 0
}

// Count returns the number of calls registered for provider today.
func (b *Budget) Count(provider string) (int, error) {
	cnt, ts, err := b.store.GetTs(b.prefix + provider)
	if err != nil {
		return 0, err
	}
	if cnt == 0 || !b.sameDay(ts, b.now()) {
		return 0, nil
	}
	return cnt, nil
}

// Register records one call to provider and returns today's count.
func (b *Budget) Register(provider string) (int, error) {
	now := b.now()
	cnt, err := b.store.IncrSince(b.prefix+provider, b.startOfDay(now), b.untilMidnight(now))
	if err != nil {
		return 0, err
	}
	if cnt == 1 {
		b.logger.Info("new day, starting call counter", zap.String("provider", provider))
	}
	b.logger.Debug("registered call",
		zap.String("provider", provider),
		zap.Int("count", cnt),
		zap.Int("limit", b.Limit(provider)))
	return cnt, nil
}

// Exhausted reports whether provider reached its daily limit.
func (b *Budget) Exhausted(provider string) (bool, error) {
	limit := b.Limit(provider)
	if limit == 0 {
		return false, nil
	}
	cnt, err := b.Count(provider)
	if err != nil {
		return false, err
	}
	return cnt >= limit, nil
}

// Next returns the provider to use for group. Providers are tried in
// round-robin order starting after the one returned last, skipping those
// at their limit. When every provider is exhausted the first one is
// returned. A counter that cannot be read does not exclude its provider.
func (b *Budget) Next(group string) (string, error) {
	providers := b.groups[group]
	if len(providers) == 0 && b.fallback != "" {
		b.logger.Warn("unknown provider group, using fallback",
			zap.String("group", group), zap.String("fallback", b.fallback))
		group = b.fallback
		providers = b.groups[group]
	}
	if len(providers) == 0 {
		return "", ErrUnknownGroup
	}
	if !b.rotate {
		return providers[0], nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.next[group] % len(providers)
	for attempts := 0; attempts < len(providers); attempts++ {
		p := providers[i]
		exhausted, err := b.Exhausted(p)
		if err != nil {
			b.logger.Warn("reading call counter", zap.String("provider", p), zap.Error(err))
		}
		if !exhausted {
			b.next[group] = (i + 1) % len(providers)
			return p, nil
		}
		i = (i + 1) % len(providers)
	}
	b.logger.Warn("all providers reached their daily limit, using the first",
		zap.String("group", group), zap.String("provider", providers[0]))
	return providers[0], nil
}

// Usage is a summary of today's calls. Remaining is -1 for unlimited
// providers.
type Usage struct {
	TotalCalls int            `json:"totalCalls"`
	Calls      map[string]int `json:"apiCalls"`
	Remaining  map[string]int `json:"remainingCalls"`
}

// Usage returns today's counts for every provider with a limit or in a
// group.
func (b *Budget) Usage() (Usage, error) {
	u := Usage{
		Calls:     make(map[string]int),
		Remaining: make(map[string]int),
	}
	for _, p := range b.Providers() {
		cnt, err := b.Count(p)
		if err != nil {
			return Usage{}, err
		}
		u.Calls[p] = cnt
		u.TotalCalls += cnt
		if limit := b.Limit(p); limit > 0 {
			u.Remaining[p] = limit - cnt
		} else {
			u.Remaining[p] = -1
		}
	}
	return u, nil
}

// Providers returns the sorted names of all known providers.
func (b *Budget) Providers() []string {
	seen := make(map[string]bool)
	for p := range b.limits {
		seen[p] = true
	}
	for _, ps := range b.groups {
		for _, p := range ps {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (b *Budget) sameDay(a, c time.Time) bool {
	ay, am, ad := a.In(b.loc).Date()
	cy, cm, cd := c.In(b.loc).Date()
	return ay == cy && am == cm && ad == cd
}

func (b *Budget) startOfDay(now time.Time) time.Time {
	y, m, d := now.In(b.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, b.loc)
}

func (b *Budget) untilMidnight(now time.Time) time.Duration {
	local := now.In(b.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, b.loc).Sub(local)
}
