// Package protocol implements the relay's small wire vocabulary.
// It classifies the "init" registration datagram and encodes/decodes the
// JSON control envelope {time, message}. Audio payloads travel as raw bytes.
package protocol
