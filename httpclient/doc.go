// Package httpclient is the outbound HTTP client used to talk to the
// registry and to resolved instances. Failures are classified by Kind
// (timeout, connection, not found, server...) so callers such as the
// heartbeat loop can branch on them.
//
//	client, _ := httpclient.New(httpclient.Config{
//	    BaseURL: "http://localhost:8761",
//	    Timeout: 5 * time.Second,
//	})
//	resp, err := httpclient.Get[[]registry.Instance](client, ctx, "/instances/user-service")
package httpclient
