// Package queue provides the bounded delivery queue that decouples datagram receipt
// from broadcast. Order is FIFO; when full the queue either evicts its oldest entry
// or blocks the producer, depending on the configured policy.
package queue
