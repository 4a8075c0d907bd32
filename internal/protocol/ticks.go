package protocol

import "time"

// Compensation constants. These are part of the wire contract: a client
// that predicts locally must agree with the server on all of them.
const (
	// TickPeriod is the simulated time covered by one world tick.
	TickPeriod = time.Second / 30

	// TickLimit is the modulus of tick ids; ids wrap to 0 after TickLimit-1.
	TickLimit = 1 << 16

	// LagThreshold is the measured delay (ticks) above which an agent is
	// treated as lagging and padded by LagBuffer.
	LagThreshold = 3

	// LagBuffer is the extra padding (ticks) added to a lagging agent's
	// delay so that small jitter does not trigger repeated resyncs.
	LagBuffer = 3

	// InitialAssumedLatency is the compensation (ticks) a freshly attached
	// agent starts with before any timestamped request has been measured.
	InitialAssumedLatency = 15
)

// TickDiff returns how many ticks lie between earlier and later, taking
// wraparound of the tick counter into account. The result is always in
// [0, TickLimit).
func TickDiff(later, earlier int) int {
	d := (later - earlier) % TickLimit
	if d < 0 {
		d += TickLimit
	}
	return d
}

// NextTick returns the tick id that follows id.
func NextTick(id int) int {
	return (id + 1) % TickLimit
}
