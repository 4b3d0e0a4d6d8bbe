package storage

// Package storage is the SQLite persistence layer.
//
// It holds:
//   - Subscriptions (per-chat notification preferences)
//   - The delivery ledger (append-only, keyed by chat/event/kind)
//   - Scheduler leases (single active scheduler across processes)
