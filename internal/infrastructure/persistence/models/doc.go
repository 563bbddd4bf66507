// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
// - base.go: BaseModel shared by all tables
// - entity.go: the durable key to entity table
// - metric_fact.go: metric facts keyed by (entity, metric, date, period)
// - run.go: run history and per-entity results
//
// Column types are chosen so that the same models work on postgres and on sqlite.
package models
