// Package membership tracks the client endpoints registered with the relay.
package membership
