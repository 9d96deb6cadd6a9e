package dialogue

import "strings"

// Verdict heuristics. Both are deliberately conservative: a reply must
// carry a positive signal AND no negative signal to converge, so a review
// like "approved, but there is a bug" keeps the dialogue going.

var (
	approvalSignals  = []string{"approved", "looks good", "lgtm", "no issues found", "no issues detected"}
	rejectionSignals = []string{"issue", "bug", "problem", "fix", "error", "vulnerability", "concern"}

	passSignals = []string{"all tests pass", "tests passed", "0 failed", "no failures", "all passing"}
	failSignals = []string{"fail", "error", "traceback", "assertion"}
)

// Approved reports whether a review reply indicates approval.
func Approved(review string) bool {
	lower := strings.ToLower(review)

	hasApproval := containsAny(lower, approvalSignals)
	hasRejection := containsAny(lower, rejectionSignals)
	if hasApproval && !hasRejection {
		return true
	}

	// A reply dominated by "approved" outweighs incidental rejection
	// words ("approved, the earlier bug is fixed").
	if strings.Contains(lower, "approved") &&
		strings.Count(lower, "approved") > strings.Count(lower, "not approved") {
		return true
	}
	return false
}

// TestsPassed reports whether a test reply indicates a fully green run.
func TestsPassed(report string) bool {
	lower := strings.ToLower(report)
	return containsAny(lower, passSignals) && !containsAny(lower, failSignals)
}

func containsAny(s string, signals []string) bool {
	for _, sig := range signals {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}
