// Package campaign predicts the response rate of marketing campaigns.
package campaign

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
)

// ErrInvalidCampaign is returned for campaigns that cannot be predicted.
var ErrInvalidCampaign = errors.New("invalid campaign")

// Predictor estimates campaign success as
// base rate × content factor × timing factor × audience factor.
type Predictor struct {
	cfg domain.CampaignConfig
}

// NewPredictor validates the multipliers.
func NewPredictor(cfg domain.CampaignConfig) (*Predictor, error) {
	if len(cfg.BaseRates) == 0 {
		return nil, fmt.Errorf("%w: campaign base rates are empty", domain.ErrInvalidConfig)
	}
	for ch, r := range cfg.BaseRates {
		if r < 0 || r > 1 {
			return nil, fmt.Errorf("%w: base rate of %s outside [0,1]", domain.ErrInvalidConfig, ch)
		}
	}
	if cfg.MaxSuccess <= 0 || cfg.MaxSuccess > 1 {
		return nil, fmt.Errorf("%w: max success outside (0,1]", domain.ErrInvalidConfig)
	}
	return &Predictor{cfg: cfg}, nil
}

// Predict estimates the outcome of a campaign.
func (p *Predictor) Predict(c domain.Campaign) (*domain.CampaignPrediction, error) {
	base, ok := p.cfg.BaseRates[c.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidCampaign, c.Channel)
	}
	if c.AudienceSize < 0 {
		return nil, fmt.Errorf("%w: negative audience", ErrInvalidCampaign)
	}

	var tips []string
	content, contentTips := p.content(c)
	tips = append(tips, contentTips...)
	timing, timingTips := p.timing(c.SendAt)
	tips = append(tips, timingTips...)

	engagement := c.AudienceEngagement
	if math.IsNaN(engagement) {
		engagement = 0
	}
	engagement = math.Max(0, math.Min(1, engagement))
	audience := 0.5 + engagement
	if engagement < 0.4 {
		tips = append(tips, "Target a more engaged segment or warm it up first")
	}

	rate := base * content * timing * audience
	rate = math.Max(0, math.Min(p.cfg.MaxSuccess, rate))

	responses := int(math.Round(rate * float64(c.AudienceSize)))
	return &domain.CampaignPrediction{
		SuccessRate:       rate,
		ExpectedResponses: responses,
		ExpectedRevenue:   float64(responses) * p.cfg.AvgOrderValue,
		BaseRate:          base,
		ContentFactor:     content,
		TimingFactor:      timing,
		AudienceFactor:    audience,
		Suggestions:       tips,
	}, nil
}

func (p *Predictor) content(c domain.Campaign) (float64, []string) {
	factor := 1.0
	var tips []string

	if c.HasOfferCode {
		factor *= p.cfg.OfferCodeBoost
	} else {
		tips = append(tips, "Add an offer code to lift conversions")
	}
	if c.HasImage {
		factor *= p.cfg.ImageBoost
	} else if c.Channel == "email" || c.Channel == "social" {
		tips = append(tips, "Include a dish photo")
	}
	if c.DiscountPct > 0 {
		factor *= 1 + math.Min(c.DiscountPct, 50)*p.cfg.DiscountBoostPerPct
	}
	if c.Channel == "email" {
		n := len([]rune(c.Subject))
		if n < p.cfg.SubjectMinLen || n > p.cfg.SubjectMaxLen {
			factor *= p.cfg.SubjectPenalty
			tips = append(tips, fmt.Sprintf("Keep the subject between %d and %d characters", p.cfg.SubjectMinLen, p.cfg.SubjectMaxLen))
		}
	}

	if p.cfg.MaxContentFactor > 0 {
		factor = math.Min(factor, p.cfg.MaxContentFactor)
	}
	return factor, tips
}

func (p *Predictor) timing(at time.Time) (float64, []string) {
	if at.IsZero() {
		return 1.0, nil
	}
	factor := 1.0
	var tips []string

	hour := at.Hour()
	switch {
	case hour < p.cfg.QuietHourEnd:
		factor *= p.cfg.QuietPenalty
		tips = append(tips, "Avoid sending during quiet hours")
	case p.peak(hour):
		factor *= p.cfg.PeakBoost
	default:
		tips = append(tips, "Send shortly before lunch or dinner")
	}

	if wd := at.Weekday(); wd == time.Friday || wd == time.Saturday {
		factor *= p.cfg.WeekendBoost
	}
	return factor, tips
}

func (p *Predictor) peak(hour int) bool {
	for _, h := range p.cfg.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}
