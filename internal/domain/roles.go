package domain

import "strings"

// roleWeights maps insider roles to conviction weights. Unknown roles get
// the default weight of 1.0.
var roleWeights = map[string]float64{
	"CEO":       3.0,
	"CFO":       2.5,
	"PRESIDENT": 2.0,
	"DIRECTOR":  1.5,
	"OFFICER":   1.0,
}

// RoleWeight returns the conviction weight for an insider role. Matching is
// case-insensitive and tolerant of compound titles ("Chief Executive
// Officer", "CEO & Chairman") by checking for the known role as a token.
func RoleWeight(role string) float64 {
	upper := strings.ToUpper(strings.TrimSpace(role))
	if w, ok := roleWeights[upper]; ok {
		return w
	}

	// Compound titles: pick the highest-weighted role mentioned
	switch {
	case strings.Contains(upper, "CHIEF EXECUTIVE"), strings.Contains(upper, "CEO"):
		return roleWeights["CEO"]
	case strings.Contains(upper, "CHIEF FINANCIAL"), strings.Contains(upper, "CFO"):
		return roleWeights["CFO"]
	case strings.Contains(upper, "PRESIDENT"):
		return roleWeights["PRESIDENT"]
	case strings.Contains(upper, "DIRECTOR"):
		return roleWeights["DIRECTOR"]
	}
	return 1.0
}

// SeniorRole returns whichever of the two roles carries the higher
// conviction weight. Used when the same insider files under different
// titles within one cluster window.
func SeniorRole(a, b string) string {
	if RoleWeight(b) > RoleWeight(a) {
		return b
	}
	return a
}
