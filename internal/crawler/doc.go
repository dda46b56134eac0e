// Package crawler defines the crawl domain shared by the fetcher, scheduler,
// orchestrator, extractors and stores: sources, tasks, results, extracted
// documents, and the small interfaces adapters implement.
package crawler
