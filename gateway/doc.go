// Package gateway is an edge router: it matches request paths against a
// static route table, resolves the target service to an instance and
// forwards the request.
//
// Matching is by longest prefix on segment boundaries, so with rules for
// "/user/**" and "/user/admin/**" the path "/user/admin/5" goes to the
// latter. A rule may strip leading segments before forwarding.
//
// Failures map to status codes: no route is 404, no UP instance or a full
// concurrency cap is 503, and a downstream that cannot be reached is 503
// unless the last attempt timed out, which is 504. A connection failure or
// timeout is retried once on the next instance of the same snapshot. Client
// disconnects cancel the downstream call and are never retried.
package gateway
