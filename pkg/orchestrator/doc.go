// Package orchestrator fans window requests out over a bounded pool of
// entity workers and turns chunk results into per-(entity, kind) results.
//
// Requests are planned with window.Plan: windows of the same entity and kind
// are merged and split into chunks of at most one year. Each entity is
// handled by one worker; its chunks run strictly one after another through a
// ChunkExecutor (normally a client.RetryPolicy), so two gates bound the load
// on the API: the limiter's credential permits and MaxConcurrentEntities.
//
// Example usage:
//
//	policy := client.NewRetryPolicy(requester, client.DefaultRetryConfig(), logger)
//	orch := orchestrator.New(policy, store,
//		orchestrator.WithLogger(logger),
//		orchestrator.WithProgress(progress),
//	)
//	summary := orchestrator.Collect(orch.Run(ctx, requests))
//
// Per entity, once every group reached a terminal status:
//   - results are persisted in one Sink.Persist call (failed results excluded)
//   - the ProgressSink is notified
//   - results are emitted on the returned channel
//
// Cancelling ctx stops the run; entities in flight are neither persisted nor
// emitted and the channel closes once all workers have returned.
package orchestrator
