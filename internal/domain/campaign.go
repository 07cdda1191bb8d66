package domain

import "time"

// Campaign describes a planned marketing send.
type Campaign struct {
	Name         string    `json:"name"`
	Channel      string    `json:"channel"` // email, sms, push, social
	AudienceSize int       `json:"audienceSize"`
	SendAt       time.Time `json:"sendAt"`
	Subject      string    `json:"subject,omitempty"`
	HasImage     bool      `json:"hasImage,omitempty"`
	HasOfferCode bool      `json:"hasOfferCode,omitempty"`
	DiscountPct  float64   `json:"discountPct,omitempty"`

	// AudienceEngagement is the mean engagement (0..1) of the target segment.
	AudienceEngagement float64 `json:"audienceEngagement"`
}

// CampaignPrediction is the estimated outcome of a campaign.
type CampaignPrediction struct {
	SuccessRate       float64  `json:"successRate"`
	ExpectedResponses int      `json:"expectedResponses"`
	ExpectedRevenue   float64  `json:"expectedRevenue"`
	BaseRate          float64  `json:"baseRate"`
	ContentFactor     float64  `json:"contentFactor"`
	TimingFactor      float64  `json:"timingFactor"`
	AudienceFactor    float64  `json:"audienceFactor"`
	Suggestions       []string `json:"suggestions"`
}

// CampaignConfig holds the multipliers of the campaign predictor.
type CampaignConfig struct {
	BaseRates map[string]float64 `json:"baseRates" yaml:"baseRates"`

	OfferCodeBoost      float64 `json:"offerCodeBoost" yaml:"offerCodeBoost"`
	ImageBoost          float64 `json:"imageBoost" yaml:"imageBoost"`
	DiscountBoostPerPct float64 `json:"discountBoostPerPct" yaml:"discountBoostPerPct"`
	MaxContentFactor    float64 `json:"maxContentFactor" yaml:"maxContentFactor"`
	SubjectMinLen       int     `json:"subjectMinLen" yaml:"subjectMinLen"`
	SubjectMaxLen       int     `json:"subjectMaxLen" yaml:"subjectMaxLen"`
	SubjectPenalty      float64 `json:"subjectPenalty" yaml:"subjectPenalty"`

	PeakHours     []int   `json:"peakHours" yaml:"peakHours"`
	PeakBoost     float64 `json:"peakBoost" yaml:"peakBoost"`
	QuietHourEnd  int     `json:"quietHourEnd" yaml:"quietHourEnd"` // hours [0, end) are quiet
	QuietPenalty  float64 `json:"quietPenalty" yaml:"quietPenalty"`
	WeekendBoost  float64 `json:"weekendBoost" yaml:"weekendBoost"`
	MaxSuccess    float64 `json:"maxSuccess" yaml:"maxSuccess"`
	AvgOrderValue float64 `json:"avgOrderValue" yaml:"avgOrderValue"`
}

// DefaultCampaignConfig returns restaurant-industry defaults.
func DefaultCampaignConfig() CampaignConfig {
	return CampaignConfig{
		BaseRates: map[string]float64{
			"email":  0.04,
			"sms":    0.08,
			"push":   0.03,
			"social": 0.02,
		},
		OfferCodeBoost:      1.3,
		ImageBoost:          1.1,
		DiscountBoostPerPct: 0.01,
		MaxContentFactor:    2.0,
		SubjectMinLen:       20,
		SubjectMaxLen:       60,
		SubjectPenalty:      0.85,
		PeakHours:           []int{11, 12, 17, 18, 19},
		PeakBoost:           1.2,
		QuietHourEnd:        7,
		QuietPenalty:        0.6,
		WeekendBoost:        1.1,
		MaxSuccess:          0.6,
		AvgOrderValue:       32,
	}
}
