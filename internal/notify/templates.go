package notify

import (
	"fmt"
	"strings"
)

type template struct {
	title string
	body  string
}

var templates = map[Type]template{
	ConcernDetected:       {"Concern detected", "The customer mentioned a concern: %s. Ask a follow-up question to learn more."},
	ProposalChance:        {"Proposal chance", "The customer raised %s. Now is a good moment to suggest a matching product."},
	ProposalMissed:        {"Proposal opportunity slipping", "It has been a while since the customer mentioned %s. Make a suggestion soon."},
	RiskWarning:           {"Risk warning", "The proposal has not landed yet. Revisit the customer's concern before closing."},
	TalkRatioAlert:        {"Talk ratio alert", "You are doing most of the talking. Let the customer speak more."},
	EmotionNegativeAlert:  {"Watch the customer's mood", "Negative reactions detected. Acknowledge how the customer feels."},
	QuestionShortageAlert: {"Ask more questions", "Few open questions so far. Use open questions to draw out concerns."},
	StaffIdentified:       {"Stylist identified", "%s"},
}

type proposal struct {
	keyword string
	product string
	talk    string
}

var proposals = []proposal{
	{"dryness", "Moisture repair treatment", "Since dryness has been bothering you, a moisture treatment today would make a real difference in how your hair feels."},
	{"frizz", "Smoothing serum", "For the frizz you mentioned, this serum keeps things smooth even on humid days."},
	{"split ends", "Bond repair treatment", "A repair treatment alongside today's trim will help keep split ends from coming back."},
	{"damage", "Bond repair treatment", "To help with the damage, a repair treatment rebuilds strength from the inside."},
	{"hair loss", "Scalp care serum", "For thinning concerns, starting with scalp care is the most effective first step."},
	{"thinning", "Scalp care serum", "For thinning concerns, starting with scalp care is the most effective first step."},
	{"gray", "Gray blending color", "A blending color can soften gray naturally without a harsh regrowth line."},
	{"volume", "Volumizing shampoo", "For more volume, this shampoo lifts from the roots without weighing hair down."},
	{"itch", "Soothing scalp shampoo", "A gentle scalp shampoo can calm the itchiness you mentioned."},
}

func render(t Type, args ...any) (string, string) {
	tpl, ok := templates[t]
	if !ok {
		return string(t), ""
	}
	body := tpl.body
	if strings.Contains(body, "%s") {
		body = fmt.Sprintf(body, args...)
	}
	return tpl.title, body
}

// proposalFor suggests a product and a talking point for a concern keyword.
func proposalFor(keyword string) (product, talk string) {
	k := strings.ToLower(strings.TrimSpace(keyword))
	for _, p := range proposals {
		if strings.Contains(k, p.keyword) {
			return p.product, p.talk
		}
	}
	return "Care product for " + keyword, fmt.Sprintf("You mentioned %s. There is a product that could help with exactly that.", keyword)
}

func joinKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return "a concern"
	}
	return strings.Join(keywords, ", ")
}

// Identified builds the advisory raised when a session's stylist is resolved.
func Identified(staffID string, similarity float64, confidence string, needsConfirmation bool) Notification {
	msg := fmt.Sprintf("Matched %s with %s confidence (%.0f%%).", staffID, confidence, similarity*100)
	if needsConfirmation {
		msg += " Please confirm."
	}
	title, body := render(StaffIdentified, msg)
	return Notification{
		Type:     StaffIdentified,
		Title:    title,
		Message:  body,
		Keywords: []string{staffID},
	}
}
