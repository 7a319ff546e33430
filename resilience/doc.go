// Package resilience provides the fault-tolerance primitives used on the
// forwarding path and by service-to-service clients:
//   - Bulkhead and BulkheadGroup: cap concurrent calls per downstream service
//   - Retry: re-run an operation with the attempt index, optional backoff
//   - RateLimiter and KeyedRateLimiter: token buckets on golang.org/x/time/rate
//   - CircuitBreaker and CircuitBreakerGroup: fail fast on a downstream that
//     keeps failing, per host
//
//	heads := resilience.NewBulkheadGroup(resilience.BulkheadConfig{MaxConcurrent: 64, MaxWait: 50 * time.Millisecond})
//	err := heads.Get("user-service").Execute(ctx, func() error {
//	    _, err := resilience.Retry(ctx, resilience.RetryConfig{MaxAttempts: 2}, func(attempt int) (*http.Response, error) {
//	        return forward(ctx, selection.Candidate(attempt))
//	    })
//	    return err
//	})
package resilience
