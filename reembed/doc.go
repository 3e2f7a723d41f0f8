// Package reembed re-embeds every node of the synaptic network with a new
// or updated embedding model.
//
// Nodes are processed in batches. Each batch is embedded with retry and
// exponential backoff, normalized to unit length, and only applied once
// every vector in it is ready, so a failed batch leaves its nodes untouched.
// Progress is reported to an io.Writer.
package reembed
