package report

import "github.com/sjawhar/salon-coach/internal/indicator"

type statement struct {
	strength    string
	improvement string
	action      string
}

var statements = map[indicator.Type]statement{
	indicator.TalkRatio: {
		strength:    "You listened well and gave the customer room to talk.",
		improvement: "Spend more of the conversation listening to the customer.",
		action:      "Use short acknowledgements so the customer keeps talking.",
	},
	indicator.QuestionQuality: {
		strength:    "Your questions drew the customer out effectively.",
		improvement: "Ask more open questions.",
		action:      "Start questions with \"what\" or \"how\" instead of yes/no questions.",
	},
	indicator.Emotion: {
		strength:    "You stayed attuned to how the customer was feeling.",
		improvement: "Pay closer attention to changes in the customer's mood.",
	},
	indicator.ConcernKeywords: {
		strength:    "You brought the customer's concerns to the surface.",
		improvement: "Dig deeper into what is bothering the customer about their hair.",
		action:      "Ask directly whether anything about their hair has been bothering them.",
	},
	indicator.ProposalTiming: {
		strength:    "You made your suggestion promptly after hearing a concern.",
		improvement: "Suggest a solution sooner after the customer mentions a concern.",
		action:      "Aim to propose within three minutes of hearing a concern.",
	},
	indicator.ProposalQuality: {
		strength:    "Your suggestion fit the customer's needs well.",
		improvement: "Tie your suggestion more closely to the concern the customer raised.",
	},
	indicator.Conversion: {
		strength:    "Your suggestion led to a purchase.",
		improvement: "The suggestion did not lead to a purchase this time.",
	},
}
