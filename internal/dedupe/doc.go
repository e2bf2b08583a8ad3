// Package dedupe provides signal deduplication using a time-based cache
// to collapse identical UI signals fired within a configurable window.
package dedupe
