// Package pipeline is the supervisory root (C9): it builds the
// scheduler's worker groups for every stage, spawns the gap generator's
// polling loop and the change listener, and tears everything down on
// the first error or an explicit shutdown request. The message shapes
// every stage exchanges live in the sibling package pipeline/msg.
package pipeline
