// Package ingestion contains the Ingestion bounded context.
// This context pulls time-series financial facts from third-party data providers
// and persists them with idempotent upsert semantics.
//
// Key concepts:
//   - Entity: a tracked subject (e.g. a company) with a stable id and a unique, case-normalized external key
//   - MetricFact: one value keyed by (entity, metric type, metric date, period type)
//   - Workflow: binds a provider function to the mapping from provider fields to metric facts
//   - IngestionResult: the immutable outcome of ingesting one entity in one run
//   - RunSummary: the aggregate over all results of one run
//
// Design Pattern: Ports & Adapters
//   - Ports (ProviderClient, ResponseCache, EntityRepository, MetricStore, RunRepository) are defined here
//   - Adapters (implementations) are in the infrastructure layer
package ingestion
