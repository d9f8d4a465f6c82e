// Package notifier delivers small, high-signal operator messages (status
// change notices, digests, confirmations) through a kit.Adapter.
//
// Delivery is asynchronous: notifications enter a bounded queue and a
// worker pool sends them behind a shared rate limiter with per-send
// retry. A recent-delivery history is kept in memory for inspection.
package notifier
