// Package crawler downloads a Pipermail/Hypermail list archive over HTTP.
//
// A crawl reads the list's front page for month links ("2025/03/index.php"),
// each month index for message pages ("0001.php"), and each message page for
// its headers and body. Headers come from the HTML comments the archive
// embeds (<!-- sent="..." -->, <!-- id="..." -->); older pages fall back to
// "From: ..." list items.
//
// Fetches are bounded by a shared request semaphore, optionally spaced by a
// rate limiter, and retried through a resilience.Executor. The crawl honors
// robots.txt and records fully crawled months in a State file so a later
// incremental run only fetches what is new.
//
// Crawled messages carry no thread fields; ResolveThreads assigns them,
// consulting stored messages for replies whose parent was crawled earlier.
package crawler
