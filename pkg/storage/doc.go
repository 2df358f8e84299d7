// Package storage defines the persistence contracts for credentials,
// webhooks, and alerts, along with an in-memory implementation used in
// tests and local development. The production PostgreSQL implementation
// lives in the postgres subpackage.
package storage
