// Package broadcast delivers one message to many destination chats under a
// concurrency bound, with per-destination retry, migration re-addressing,
// permanent-failure pruning, and per-actor invocation rate limiting.
package broadcast
