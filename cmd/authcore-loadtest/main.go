// Command authcore-loadtest drives an engine on the Redis store: it seeds
// session chains, checks access tokens, then races duplicate refreshes of
// the same token and verifies exactly one of them wins.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pantrychef/authcore"
	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/storage/redisstore"
)

var loadVerifier = identity.VerifierFunc(func(_ context.Context, assertion string) (*identity.Identity, error) {
	sub, ok := strings.CutPrefix(assertion, "load:")
	if !ok || sub == "" {
		return nil, identity.ErrInvalidIdentity
	}
	return &identity.Identity{SubjectID: sub}, nil
})

func main() {
	var (
		chains      = flag.Int("chains", 2000, "number of session chains to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		checks      = flag.Int("checks", 50000, "access-token checks to run")
		duplicates  = flag.Int("duplicates", 4, "concurrent refreshes fired per refresh token")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ac-load", "redis key prefix")
	)
	flag.Parse()

	if *chains <= 0 || *concurrency <= 0 || *checks <= 0 || *duplicates < 2 {
		fmt.Fprintln(os.Stderr, "chains, concurrency and checks must be > 0; duplicates must be >= 2")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, err := newEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d chains...\n", *chains)
	pairs, seedStats := runSeedPhase(ctx, engine, *chains, *concurrency)
	checkStats := runCheckPhase(ctx, engine, pairs, *checks, *concurrency)
	raceStats, violations := runRacePhase(ctx, engine, pairs, *duplicates, *concurrency)

	fmt.Println("---- results ----")
	printStats("sign-in", seedStats)
	printStats("check", checkStats)
	printStats("refresh-race", raceStats)
	fmt.Printf("single-winner violations: %d\n", violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func newEngine(client redis.UniversalClient, prefix string) (*authcore.Engine, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.Secret = secret
	cfg.JWT.Issuer = "authcore-loadtest"
	cfg.JWT.Audience = "authcore-loadtest"

	opts := redisstore.Options{Prefix: prefix}
	return authcore.New().
		WithConfig(cfg).
		WithSessionStore(redisstore.NewSessionStore(client, opts)).
		WithRevocationStore(redisstore.NewRevocationStore(client, opts)).
		WithIdentityVerifier(loadVerifier).
		WithLatencyHistograms(true).
		Build()
}

// forEach runs fn for indices [0,n) on a fixed pool of workers.
func forEach(n, concurrency int, fn func(worker, i int)) time.Duration {
	var (
		wg     sync.WaitGroup
		cursor int64
	)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				fn(worker, i)
			}
		}(w)
	}
	wg.Wait()
	return time.Since(start)
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  atomic.Int64
}

func (r *recorder) add(d time.Duration, err error) {
	if err != nil {
		r.failures.Add(1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

func runSeedPhase(ctx context.Context, engine *authcore.Engine, n, concurrency int) ([]authcore.TokenPair, phaseStats) {
	pairs := make([]authcore.TokenPair, n)
	rec := &recorder{latencies: make([]time.Duration, 0, n)}
	total := forEach(n, concurrency, func(_ int, i int) {
		t0 := time.Now()
		pair, err := engine.SignIn(ctx, fmt.Sprintf("load:cook-%d", i))
		rec.add(time.Since(t0), err)
		pairs[i] = pair
	})
	return pairs, computeStats(total, rec.latencies, rec.failures.Load())
}

func runCheckPhase(ctx context.Context, engine *authcore.Engine, pairs []authcore.TokenPair, ops, concurrency int) phaseStats {
	rec := &recorder{latencies: make([]time.Duration, 0, ops)}
	rngs := make([]*mrand.Rand, concurrency)
	for w := range rngs {
		rngs[w] = mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(w)*7919))
	}
	total := forEach(ops, concurrency, func(worker, _ int) {
		pair := pairs[rngs[worker].Intn(len(pairs))]
		t0 := time.Now()
		_, err := engine.Validate(ctx, pair.AccessToken)
		rec.add(time.Since(t0), err)
	})
	return computeStats(total, rec.latencies, rec.failures.Load())
}

// runRacePhase fires dup concurrent refreshes of every chain's token. Every
// group must end with one success and dup-1 reuse detections.
func runRacePhase(ctx context.Context, engine *authcore.Engine, pairs []authcore.TokenPair, dup, concurrency int) (phaseStats, int64) {
	rec := &recorder{latencies: make([]time.Duration, 0, len(pairs)*dup)}
	var violations atomic.Int64

	total := forEach(len(pairs), concurrency, func(_ int, i int) {
		var (
			wg      sync.WaitGroup
			gate    = make(chan struct{})
			winners atomic.Int64
			reused  atomic.Int64
		)
		for d := 0; d < dup; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				_, err := engine.Refresh(ctx, pairs[i].RefreshToken)
				rec.add(time.Since(t0), err)
				switch {
				case err == nil:
					winners.Add(1)
				case errors.Is(err, authcore.ErrReuseDetected):
					reused.Add(1)
				}
			}()
		}
		close(gate)
		wg.Wait()
		if winners.Load() != 1 || reused.Load() != int64(dup-1) {
			violations.Add(1)
		}
	})

	stats := computeStats(total, rec.latencies, rec.failures.Load())
	return stats, violations.Load()
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
