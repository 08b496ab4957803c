// Package faults defines the node's fault codes and the loop-owned tracker.
//
// Faults are values, not panics. Transient communication and hardware
// faults are retried locally through the circuit breakers and only reach
// the lifecycle state machine when a breaker opens. Critical faults are the
// only class treated as fatal to operation: while one is active the
// watchdog supervisor withholds feeding.
//
// Configuration faults never stop the device. They are reported per item in
// the aggregated config response while unaffected items still apply.
package faults
