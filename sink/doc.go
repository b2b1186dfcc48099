// Package sink provides the durable side effect a handler's success is
// anchored to: an append-only log of processed payloads.
//
// FileSink writes one JSON object per line, UTF-8 encoded, with each record
// issued as a single write syscall so a partially written record is never
// visible to readers. Write failures are transient SinkErrors by default;
// the legacy fire-and-forget behavior of the original consumer is available
// as an explicit opt-in via WithBestEffort.
package sink
