package insights

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/aura-webinar/meetbot/internal/models"
)

// ErrMalformedOutput is returned when the model reply does not match the insight schema.
var ErrMalformedOutput = errors.New("malformed insight output")

// Sentiments are the accepted values of the sentiment field.
var Sentiments = []string{"positive", "neutral", "negative", "mixed"}

// Output is the structured reply the model must produce.
type Output struct {
	Summary              string              `json:"summary"`
	KeyTopics            []string            `json:"key_topics"`
	ActionItems          []models.ActionItem `json:"action_items"`
	Decisions            []string            `json:"decisions"`
	FollowUpQuestions    []string            `json:"follow_up_questions"`
	Sentiment            string              `json:"sentiment"`
	ParticipationSummary string              `json:"participation_summary"`
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseOutput decodes a model reply. Anything other than one JSON object with a summary
// and a known sentiment is ErrMalformedOutput.
func ParseOutput(reply string) (*Output, error) {
	var out Output
	dec := json.NewDecoder(strings.NewReader(stripFences(reply)))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedOutput)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil, fmt.Errorf("%w: summary is empty", ErrMalformedOutput)
	}
	out.Sentiment = strings.ToLower(strings.TrimSpace(out.Sentiment))
	if !lo.Contains(Sentiments, out.Sentiment) {
		return nil, fmt.Errorf("%w: unknown sentiment %q", ErrMalformedOutput, out.Sentiment)
	}
	return &out, nil
}

// Insights converts the output into the seven insight rows, in storage order.
func (o *Output) Insights() ([]models.MeetingInsight, error) {
	list := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	topics, err := list(lo.Ternary(o.KeyTopics == nil, []string{}, o.KeyTopics))
	if err != nil {
		return nil, err
	}
	actions, err := list(lo.Ternary(o.ActionItems == nil, []models.ActionItem{}, o.ActionItems))
	if err != nil {
		return nil, err
	}
	decisions, err := list(lo.Ternary(o.Decisions == nil, []string{}, o.Decisions))
	if err != nil {
		return nil, err
	}
	questions, err := list(lo.Ternary(o.FollowUpQuestions == nil, []string{}, o.FollowUpQuestions))
	if err != nil {
		return nil, err
	}
	content := map[models.InsightType]string{
		models.InsightSummary:              o.Summary,
		models.InsightKeyTopics:            topics,
		models.InsightActionItems:          actions,
		models.InsightDecisions:            decisions,
		models.InsightFollowUpQuestions:    questions,
		models.InsightSentiment:            o.Sentiment,
		models.InsightParticipationSummary: o.ParticipationSummary,
	}
	return lo.Map(models.AllInsightTypes, func(t models.InsightType, _ int) models.MeetingInsight {
		confidence := 0.9
		if t == models.InsightSentiment {
			confidence = 0.8
		}
		return models.MeetingInsight{Type: t, Content: content[t], Confidence: confidence}
	}), nil
}
