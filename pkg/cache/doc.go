// Package cache remembers fetched chunks between runs.
//
// A chunk is one API-sized slice of an (entity, kind) window. Once it has
// been fetched successfully and lies entirely in the past its items cannot
// change, so a re-run after a crash or a partial failure can skip it.
//
// Two backends implement Store:
//
//   - Manager keeps entries in Redis with a TTL, shared between processes
//   - DiskStore keeps entries in a local LevelDB database
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	chunks := cache.NewChunkCache(cache.NewManager(redisClient), cache.DefaultChunkTTL)
//	orch := orchestrator.New(policy, sink, orchestrator.WithCache(chunks))
//
// # Keys
//
// Keys are deterministic: harvest:chunk:<entity>:<kind>:<start>-<end> with
// unix-second bounds, so all chunks of an entity share a prefix and can be
// dropped together with Invalidate.
//
// # Metrics
//
//   - harvest_cache_hits_total{backend}
//   - harvest_cache_misses_total{backend}
//   - harvest_cache_writes_total{backend}
//   - harvest_cache_errors_total{backend,operation}
package cache
