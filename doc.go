// Package hookline provides a reliable outbound webhook delivery engine for Go.
//
// Hookline is a library, not a service. Import it into your application to
// get tenant-scoped webhook endpoints, at-least-once event delivery with
// HMAC-SHA256 signing, policy-driven retries with dead-lettering, per-endpoint
// sliding-window rate limiting, and continuous endpoint health assessment.
//
// Key features:
//   - Durable, store-backed delivery queue with atomic batch dequeue
//   - Fixed, linear, and exponential retry policies configured per endpoint
//   - HMAC-SHA256 signature on every delivery body
//   - Per-endpoint sliding-window rate limiting (rejections never count as attempts)
//   - Dead letter queue with single and bulk replay
//   - Periodic health snapshots derived from delivery history
//   - Composable store pattern with Postgres, Redis, and in-memory backends
//
// Quick start:
//
//	hl, err := hookline.New(
//	    hookline.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hl.Start(ctx)
//	defer hl.Stop(ctx)
//
//	hl.Trigger(ctx, hookline.TriggerInput{
//	    TenantID:   "tenant_123",
//	    EventType:  "invoice.created",
//	    EntityID:   "inv_42",
//	    EntityType: "invoice",
//	    Payload:    map[string]any{"amount_cents": 1999},
//	})
package hookline
