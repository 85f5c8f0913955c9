package indicator

import "math"

const (
	idealStaffShareMin   = 40.0
	idealStaffShareMax   = 70.0
	idealOpenShare       = 60.0
	idealPositiveRatio   = 70.0
	idealProposalDelayMs = int64(3 * 60 * 1000)
	maxProposalDelayMs   = int64(10 * 60 * 1000)
)

// DeriveScore computes a 0-100 score from a detail payload. It is used when
// the upstream analysis omits an explicit score.
func DeriveScore(d Detail) float64 {
	switch v := d.(type) {
	case TalkRatioDetail:
		return scoreTalkRatio(v.StaffRatio)
	case QuestionQualityDetail:
		return clampScore(v.OpenShare() * 100 / idealOpenShare)
	case EmotionDetail:
		return clampScore(v.PositiveRatio * 100 / idealPositiveRatio)
	case ConcernKeywordsDetail:
		switch n := len(v.Keywords); {
		case n == 0:
			return 0
		case n == 1:
			return 60
		default:
			return 100
		}
	case ProposalTimingDetail:
		return scoreProposalDelay(v.TimingMs)
	case ProposalQualityDetail:
		return clampScore(v.MatchRate)
	case ConversionDetail:
		if v.IsConverted {
			return 100
		}
		return 0
	default:
		return 0
	}
}

// scoreTalkRatio gives full marks inside the ideal staff-share band and
// loses two points per percentage point outside it.
func scoreTalkRatio(staffShare float64) float64 {
	switch {
	case staffShare < idealStaffShareMin:
		return clampScore(100 - 2*(idealStaffShareMin-staffShare))
	case staffShare > idealStaffShareMax:
		return clampScore(100 - 2*(staffShare-idealStaffShareMax))
	default:
		return 100
	}
}

func scoreProposalDelay(timingMs *int64) float64 {
	if timingMs == nil {
		return 0
	}
	delay := *timingMs
	if delay <= idealProposalDelayMs {
		return 100
	}
	if delay >= maxProposalDelayMs {
		return 0
	}
	span := float64(maxProposalDelayMs - idealProposalDelayMs)
	return clampScore(100 * float64(maxProposalDelayMs-delay) / span)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
