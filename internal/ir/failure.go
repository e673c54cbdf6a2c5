package ir

import "fmt"

// FailureType classifies why a step failed. Advisers filter on it.
type FailureType string

const (
	FailureApplication          FailureType = "APPLICATION"
	FailureTimeout              FailureType = "TIMEOUT"
	FailureConnectivity         FailureType = "CONNECTIVITY"
	FailureAuthentication       FailureType = "AUTHENTICATION"
	FailureAuthorization        FailureType = "AUTHORIZATION"
	FailureVerification         FailureType = "VERIFICATION"
	FailureDelegateProvisioning FailureType = "DELEGATE_PROVISIONING"
	FailureApprovalRejection    FailureType = "APPROVAL_REJECTION"
	FailureUnknown              FailureType = "UNKNOWN"
)

var allFailureTypes = []FailureType{
	FailureApplication, FailureTimeout, FailureConnectivity, FailureAuthentication,
	FailureAuthorization, FailureVerification, FailureDelegateProvisioning,
	FailureApprovalRejection, FailureUnknown,
}

// ParseFailureType converts a string to a FailureType.
func ParseFailureType(s string) (FailureType, error) {
	for _, ft := range allFailureTypes {
		if string(ft) == s {
			return ft, nil
		}
	}
	return "", fmt.Errorf("unknown failure type %q", s)
}

// FailureInfo describes a step failure as shown to the user.
type FailureInfo struct {
	Message string        `json:"message"`
	Types   []FailureType `json:"types,omitempty"`
}

// MatchesAny reports whether the failure carries one of the given types.
// An empty filter matches every failure, including a nil one.
func (f *FailureInfo) MatchesAny(filter []FailureType) bool {
	if len(filter) == 0 {
		return true
	}
	if f == nil {
		return false
	}
	for _, want := range filter {
		for _, have := range f.Types {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy. A nil receiver yields nil.
func (f *FailureInfo) Clone() *FailureInfo {
	if f == nil {
		return nil
	}
	out := &FailureInfo{Message: f.Message}
	if len(f.Types) > 0 {
		out.Types = append([]FailureType(nil), f.Types...)
	}
	return out
}
