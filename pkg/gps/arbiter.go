package gps

import "github.com/markus-lassfolk/locnotifier/pkg"

const (
	// SignificantTimeDeltaMS is the age gap after which the newer fix always wins
	SignificantTimeDeltaMS = 2 * 60 * 1000

	// SignificantAccuracyLossM is the accuracy loss tolerated from the same provider
	SignificantAccuracyLossM = 200
)

// IsBetterFix decides whether candidate should replace the currently trusted fix.
//
// Recency dominates: a fix more than two minutes newer always wins and one more than two
// minutes older always loses. Inside that window a more accurate fix wins, a newer fix wins
// unless it is less accurate, and a newer fix from the same provider wins unless it is
// significantly less accurate. The relation is asymmetric and may be intransitive.
func IsBetterFix(candidate pkg.LocationFix, current *pkg.LocationFix) bool {
	if current == nil {
		return true
	}

	timeDelta := candidate.Timestamp - current.Timestamp
	if timeDelta > SignificantTimeDeltaMS {
		return true
	}
	if timeDelta < -SignificantTimeDeltaMS {
		return false
	}
	isNewer := timeDelta > 0

	accuracyDelta := candidate.Accuracy - current.Accuracy
	isLessAccurate := accuracyDelta > 0
	isMoreAccurate := accuracyDelta < 0
	isSignificantlyLessAccurate := accuracyDelta > SignificantAccuracyLossM

	sameProvider := candidate.Provider == current.Provider

	switch {
	case isMoreAccurate:
		return true
	case isNewer && !isLessAccurate:
		return true
	case isNewer && !isSignificantlyLessAccurate && sameProvider:
		return true
	}
	return false
}
