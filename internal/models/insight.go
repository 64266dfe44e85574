package models

import (
	"time"

	"github.com/google/uuid"
)

// InsightType names one structured section extracted from a transcript.
type InsightType string

const (
	InsightSummary              InsightType = "summary"
	InsightKeyTopics            InsightType = "key_topics"
	InsightActionItems          InsightType = "action_items"
	InsightDecisions            InsightType = "decisions"
	InsightFollowUpQuestions    InsightType = "follow_up_questions"
	InsightSentiment            InsightType = "sentiment"
	InsightParticipationSummary InsightType = "participation_summary"
)

// AllInsightTypes lists every insight a successful generation run persists, in storage order.
var AllInsightTypes = []InsightType{
	InsightSummary,
	InsightKeyTopics,
	InsightActionItems,
	InsightDecisions,
	InsightFollowUpQuestions,
	InsightSentiment,
	InsightParticipationSummary,
}

// MeetingInsight is one generated insight. Content is free text or a JSON-encoded list,
// depending on Type.
type MeetingInsight struct {
	ID         uuid.UUID   `json:"id"`
	MeetingID  uuid.UUID   `json:"meeting_id"`
	Type       InsightType `json:"type"`
	Content    string      `json:"content"`
	Confidence float64     `json:"confidence"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ActionItem is the element type of the action_items insight.
type ActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline"`
}
