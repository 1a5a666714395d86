// Package server implements the UDP fan-out relay and its HTTP monitoring API.
// The relay's receiver registers clients that send "init" and queues every other
// datagram; its broadcaster sends each queued datagram to all other registered clients.
package server
