// Package criteria evaluates approval criteria against step inputs.
//
// Two criteria shapes are supported: key-value conditions compared with a
// small operator set (EQ, NOT_EQ, IN, NOT_IN), and boolean CUE expressions
// evaluated with the inputs in scope. Operators live in a registry built by
// NewOperatorRegistry; nothing is registered globally.
//
// Every evaluation failure is an *ApprovalStepError. Critical errors mean the
// criteria can never be decided and must be surfaced to the user verbatim.
package criteria
