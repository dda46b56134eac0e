// Package progress carries the observational event feed: typed events for
// task status, chunk status, log lines, upload summaries, crawl progress and
// heartbeats, a non-blocking hub that batches them on a background goroutine,
// and the Sink interface the hub fans out to. Nothing in the crawl or upload
// paths depends on an event being delivered.
package progress
