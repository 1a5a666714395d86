// Package audio handles the worker's audio plumbing.
// It splits files into datagram-sized chunks, decodes raw PCM-16 for diagnostics,
// and creates and appends to uncompressed PCM WAV containers.
package audio
