// Package service implements ingestion for ellen.
//
// The Ingester owns the single active backing store. It decodes inbound
// Gorilla notifications, normalizes them into domain events, runs the
// periodic retention pass when it is due, re-ensures the store and appends
// the event. Calls are serialized with a mutex so stores never see
// concurrent writers.
//
// # Errors
//
// Receive returns errors that wrap one of ErrInvalidPayload,
// ErrStorageUnavailable or ErrProcessing so the HTTP layer can choose a
// status code without inspecting store internals.
//
// # Event System
//
// Stored events, prune results, rollovers and store switches are published
// on an EventBus. The hub package relays them to Server-Sent Events clients.
package service
