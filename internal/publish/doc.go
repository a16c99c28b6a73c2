// Package publish forwards poll results to Redis so other cluster components
// can consume them.
//
// Publisher keeps a bounded buffer (oldest evicted first) and drains it from
// Run, reconnecting with truncated exponential backoff and ±25% jitter when
// the sink fails. RedisSink stores each result as JSON with a TTL and
// announces it on a pub/sub channel.
package publish
