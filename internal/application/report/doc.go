// Package report renders run summaries: a JSON document, a Prometheus text
// exposition and a human-readable table.
package report
