package assess

import (
	"math"

	"unifiedagent/internal/logging"
)

// DefaultMinAssessments is the quorum below which consensus is 0.
const DefaultMinAssessments = 2

// ConsensusConfig controls how provider assessments are merged.
type ConsensusConfig struct {
	MinAssessments  int                `json:"minAssessments"`
	DiscardOutliers bool               `json:"discardOutliers"`
	Weights         map[string]float64 `json:"weights,omitempty"`
}

// DefaultConsensusConfig requires two voters and trims outliers.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		MinAssessments:  DefaultMinAssessments,
		DiscardOutliers: true,
	}
}

// ComputeConsensus merges provider assessments into one score in [0,10].
// Below-quorum inputs score 0. With three or more voters, scores further
// than two standard deviations from the mean are dropped, unless the trim
// itself would break quorum. Survivors are averaged using the per-provider
// weights (default 1.0) and rounded to two decimals.
func ComputeConsensus(assessments []Assessment, cfg ConsensusConfig) float64 {
	if cfg.MinAssessments <= 0 {
		cfg.MinAssessments = DefaultMinAssessments
	}
	if len(assessments) < cfg.MinAssessments {
		logging.ConsensusDebug("Below quorum: %d assessments, need %d", len(assessments), cfg.MinAssessments)
		return 0
	}

	survivors := assessments
	if cfg.DiscardOutliers && len(assessments) >= 3 {
		trimmed := trimOutliers(assessments)
		if len(trimmed) >= cfg.MinAssessments {
			survivors = trimmed
		}
	}

	var weighted, total float64
	for _, as := range survivors {
		w := 1.0
		if v, ok := cfg.Weights[as.Provider]; ok {
			w = v
		}
		weighted += float64(as.Score) * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return math.Round(weighted/total*100) / 100
}

// trimOutliers drops scores further than two population standard deviations
// from the mean.
func trimOutliers(assessments []Assessment) []Assessment {
	var sum float64
	for _, as := range assessments {
		sum += float64(as.Score)
	}
	mean := sum / float64(len(assessments))

	var variance float64
	for _, as := range assessments {
		d := float64(as.Score) - mean
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(len(assessments)))

	kept := make([]Assessment, 0, len(assessments))
	for _, as := range assessments {
		if math.Abs(float64(as.Score)-mean) <= 2*sigma {
			kept = append(kept, as)
		}
	}
	if len(kept) != len(assessments) {
		logging.ConsensusDebug("Trimmed %d outlier(s): mean=%.2f sigma=%.2f", len(assessments)-len(kept), mean, sigma)
	}
	return kept
}
