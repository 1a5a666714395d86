// Package worker implements a relay client that streams a local file to the relay
// and records everything the relay sends back into a WAV file.
package worker
