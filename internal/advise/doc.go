// Package advise implements advisers: pure decision functions from a node's
// terminal outcome to an ir.Advise.
//
// A node lists adviser obtainments in declaration order. Dispatch asks each
// adviser in that order whether it can advise; the first that can is invoked
// and its result is final, even when it returns no advise. When none can,
// the outcome is UNKNOWN and the engine reports a stalled execution.
//
// Advisers never touch the store. Everything they need arrives in the
// AdvisingEvent, so dispatch is deterministic and trivially testable.
package advise
