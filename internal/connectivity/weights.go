package connectivity

// RiskWeights holds the per-factor contribution weights for the combined
// offline-risk score. The six weights always sum to 1 after normalization.
type RiskWeights struct {
	TimePattern      float64 `json:"time_pattern"`
	LocationPattern  float64 `json:"location_pattern"`
	RecentQuality    float64 `json:"recent_quality"`
	Transition       float64 `json:"transition"`
	UserProfile      float64 `json:"user_profile"`
	RecurringPattern float64 `json:"recurring_pattern"`
}

// DefaultRiskWeights returns a uniform weight vector.
func DefaultRiskWeights() RiskWeights {
	const w = 1.0 / 6.0
	return RiskWeights{
		TimePattern:      w,
		LocationPattern:  w,
		RecentQuality:    w,
		Transition:       w,
		UserProfile:      w,
		RecurringPattern: w,
	}
}

// Sum returns the total of all six weights.
func (w RiskWeights) Sum() float64 {
	return w.TimePattern + w.LocationPattern + w.RecentQuality +
		w.Transition + w.UserProfile + w.RecurringPattern
}

// Normalized returns the vector scaled so the weights sum to 1. A
// degenerate all-zero vector falls back to the uniform default.
func (w RiskWeights) Normalized() RiskWeights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultRiskWeights()
	}
	return RiskWeights{
		TimePattern:      w.TimePattern / sum,
		LocationPattern:  w.LocationPattern / sum,
		RecentQuality:    w.RecentQuality / sum,
		Transition:       w.Transition / sum,
		UserProfile:      w.UserProfile / sum,
		RecurringPattern: w.RecurringPattern / sum,
	}
}

// Factors holds the six independent risk factors, each in [0,1]. A factor
// with no supporting data sits at the neutral 0.5.
type Factors struct {
	TimePattern      float64 `json:"time_pattern"`
	LocationPattern  float64 `json:"location_pattern"`
	RecentQuality    float64 `json:"recent_quality"`
	Transition       float64 `json:"transition"`
	UserProfile      float64 `json:"user_profile"`
	RecurringPattern float64 `json:"recurring_pattern"`
}

// Combined returns the weighted sum of the factors.
func (f Factors) Combined(w RiskWeights) float64 {
	return f.TimePattern*w.TimePattern +
		f.LocationPattern*w.LocationPattern +
		f.RecentQuality*w.RecentQuality +
		f.Transition*w.Transition +
		f.UserProfile*w.UserProfile +
		f.RecurringPattern*w.RecurringPattern
}
