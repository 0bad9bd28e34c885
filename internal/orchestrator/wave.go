package orchestrator

import (
	"github.com/wavecore/botdetect/internal/detector"
)

// assignWaves partitions detectors into at most two initial waves:
// detectors with no triggers at all form wave 0, and every detector with at
// least one trigger forms the next wave. Each wave is sorted by Priority
// (lower runs earlier). The signal keys a trigger references are not
// examined, so key-triggered detectors are not spread over further waves
// by dependency.
//
// A detector whose only triggers reference running evidence rather than a
// signal key (RiskExceeds, DetectorCount) is NOT wave-0 eligible: those
// conditions are trivially unsatisfiable before any wave has run (zero
// contributions, bot_probability defaulting to 0.5), so placing them in
// wave 0 would mean they never fire. Such detectors are placed alongside
// the rest of the key-triggered detectors, one wave after the untriggered
// ones; Run additionally defers any detector that still isn't eligible once
// its assigned wave runs, rather than dropping it (see waveLoop).
func assignWaves(detectors []detector.Contributor) [][]detector.Contributor {
	untriggered := make([]detector.Contributor, 0, len(detectors))
	triggered := make([]detector.Contributor, 0, len(detectors))

	for _, d := range detectors {
		if len(d.Triggers()) == 0 {
			untriggered = append(untriggered, d)
		} else {
			triggered = append(triggered, d)
		}
	}

	sortByPriority(untriggered)
	sortByPriority(triggered)

	var waves [][]detector.Contributor
	if len(untriggered) > 0 {
		waves = append(waves, untriggered)
	}
	if len(triggered) > 0 {
		waves = append(waves, triggered)
	}
	return waves
}

func sortByPriority(ds []detector.Contributor) {
	// insertion sort is fine: detector counts per policy are small (tens,
	// not thousands), and this keeps the dependency list free of an extra
	// import for a one-off sort.
	for i := 1; i < len(ds); i++ {
		j := i
		for j > 0 && ds[j-1].Priority() > ds[j].Priority() {
			ds[j-1], ds[j] = ds[j], ds[j-1]
			j--
		}
	}
}
