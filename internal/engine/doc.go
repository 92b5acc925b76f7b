// Package engine hosts durable survey instances. Each instance is a
// deterministic decision function driven off an append-only event history:
// external effects run through the journaled activity executor, answers
// arrive through a per-instance signal inbox, and a restart replays the
// history to put the instance back exactly where it stopped.
package engine
