package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/oversight-labs/auditpipe/internal/anomaly"
)

// Channel names used in metrics and logging.
const (
	ChannelSlack  = "slack"
	ChannelTeams  = "teams"
	ChannelZapier = "zapier"
)

// severityEmoji maps detection severity to the Slack header emoji.
var severityEmoji = map[string]string{
	anomaly.SeverityLow:      ":large_blue_circle:",
	anomaly.SeverityMedium:   ":large_yellow_circle:",
	anomaly.SeverityHigh:     ":large_orange_circle:",
	anomaly.SeverityCritical: ":red_circle:",
}

// --- Slack (Block Kit) ---

// SlackPayload is the Block Kit body posted to Slack incoming webhooks.
type SlackPayload struct {
	Blocks []SlackBlock `json:"blocks"`
}

// SlackBlock is a single Block Kit block. Fields are populated per block
// type: header and section blocks use Text, field sections use Fields.
type SlackBlock struct {
	Type   string      `json:"type"`
	Text   *SlackText  `json:"text,omitempty"`
	Fields []SlackText `json:"fields,omitempty"`
}

// SlackText is a Block Kit text object.
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BuildSlackPayload formats a detection as a Slack Block Kit message:
// a header with a severity emoji, a fields section (severity, score,
// event type, user), and two text sections for affected entities and
// suggested actions.
func BuildSlackPayload(d *anomaly.Detection) SlackPayload {
	emoji := severityEmoji[d.SeverityLevel]
	if emoji == "" {
		emoji = ":warning:"
	}

	fields := []SlackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s", d.SeverityLevel)},
		{Type: "mrkdwn", Text: fmt.Sprintf("*Score:*\n%.2f", d.Score)},
		{Type: "mrkdwn", Text: fmt.Sprintf("*Event Type:*\n%s", eventTypeOf(d))},
		{Type: "mrkdwn", Text: fmt.Sprintf("*User:*\n%s", userOf(d))},
	}

	return SlackPayload{
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{Type: "plain_text", Text: fmt.Sprintf("%s Anomaly Detected", emoji)},
			},
			{Type: "section", Fields: fields},
			{
				Type: "section",
				Text: &SlackText{Type: "mrkdwn", Text: "*Affected Entities:*\n" + joinOrNone(d.AffectedEntities)},
			},
			{
				Type: "section",
				Text: &SlackText{Type: "mrkdwn", Text: "*Suggested Actions:*\n" + bulletList(d.SuggestedActions)},
			},
		},
	}
}

// --- Microsoft Teams (Adaptive Card) ---

// TeamsPayload is the adaptive-card message posted to Teams webhooks.
type TeamsPayload struct {
	Type        string            `json:"type"`
	Attachments []TeamsAttachment `json:"attachments"`
}

// TeamsAttachment wraps one adaptive card.
type TeamsAttachment struct {
	ContentType string    `json:"contentType"`
	Content     TeamsCard `json:"content"`
}

// TeamsCard is the adaptive card body.
type TeamsCard struct {
	Schema  string             `json:"$schema"`
	Type    string             `json:"type"`
	Version string             `json:"version"`
	Body    []TeamsCardElement `json:"body"`
}

// TeamsCardElement is one element of an adaptive card body: a TextBlock
// (Text set) or a FactSet (Facts set).
type TeamsCardElement struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Weight string      `json:"weight,omitempty"`
	Size   string      `json:"size,omitempty"`
	Wrap   bool        `json:"wrap,omitempty"`
	Facts  []TeamsFact `json:"facts,omitempty"`
}

// TeamsFact is one title/value row in a FactSet.
type TeamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// BuildTeamsPayload formats a detection as a Teams adaptive-card
// attachment with a FactSet of the core fields plus two free-text blocks.
func BuildTeamsPayload(d *anomaly.Detection) TeamsPayload {
	card := TeamsCard{
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Type:    "AdaptiveCard",
		Version: "1.4",
		Body: []TeamsCardElement{
			{Type: "TextBlock", Text: "Anomaly Detected", Weight: "Bolder", Size: "Medium"},
			{Type: "FactSet", Facts: []TeamsFact{
				{Title: "Severity", Value: d.SeverityLevel},
				{Title: "Score", Value: fmt.Sprintf("%.2f", d.Score)},
				{Title: "Event Type", Value: eventTypeOf(d)},
				{Title: "User", Value: userOf(d)},
			}},
			{Type: "TextBlock", Text: "Affected entities: " + joinOrNone(d.AffectedEntities), Wrap: true},
			{Type: "TextBlock", Text: "Suggested actions: " + strings.Join(d.SuggestedActions, "; "), Wrap: true},
		},
	}

	return TeamsPayload{
		Type: "message",
		Attachments: []TeamsAttachment{
			{ContentType: "application/vnd.microsoft.card.adaptive", Content: card},
		},
	}
}

// --- Zapier ---

// ZapierPayload is the flat JSON body posted to Zapier catch hooks.
// It mirrors the detection with a nested event sub-object; all UUID and
// datetime fields are stringified.
type ZapierPayload struct {
	ID               string            `json:"id"`
	AuditEventID     string            `json:"audit_event_id"`
	AnomalyScore     float64           `json:"anomaly_score"`
	DetectionTime    string            `json:"detection_timestamp"`
	ModelVersion     string            `json:"model_version"`
	SeverityLevel    string            `json:"severity_level"`
	AffectedEntities []string          `json:"affected_entities"`
	SuggestedActions []string          `json:"suggested_actions"`
	AlertSent        bool              `json:"alert_sent"`
	IsFalsePositive  bool              `json:"is_false_positive"`
	Event            ZapierEventDetail `json:"event"`
}

// ZapierEventDetail is the nested audit event in a Zapier payload.
type ZapierEventDetail struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	UserID        string         `json:"user_id,omitempty"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id,omitempty"`
	ActionDetails map[string]any `json:"action_details,omitempty"`
	Severity      string         `json:"severity"`
	Timestamp     string         `json:"timestamp"`
	TenantID      string         `json:"tenant_id"`
}

// BuildZapierPayload formats a detection as flat structured JSON for Zapier.
func BuildZapierPayload(d *anomaly.Detection) ZapierPayload {
	payload := ZapierPayload{
		ID:               d.ID,
		AuditEventID:     d.AuditEventID,
		AnomalyScore:     d.Score,
		DetectionTime:    d.DetectedAt.UTC().Format(time.RFC3339),
		ModelVersion:     d.ModelVersion,
		SeverityLevel:    d.SeverityLevel,
		AffectedEntities: d.AffectedEntities,
		SuggestedActions: d.SuggestedActions,
		AlertSent:        d.AlertSent,
		IsFalsePositive:  d.IsFalsePositive,
	}
	if e := d.AuditEvent; e != nil {
		payload.Event = ZapierEventDetail{
			ID:            e.ID,
			EventType:     e.EventType,
			UserID:        e.UserID,
			EntityType:    e.EntityType,
			EntityID:      e.EntityID,
			ActionDetails: e.ActionDetails,
			Severity:      e.Severity,
			Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
			TenantID:      e.TenantID,
		}
	}
	return payload
}

func eventTypeOf(d *anomaly.Detection) string {
	if d.AuditEvent == nil {
		return "unknown"
	}
	return d.AuditEvent.EventType
}

func userOf(d *anomaly.Detection) string {
	if d.AuditEvent == nil || d.AuditEvent.UserID == "" {
		return "unknown"
	}
	return d.AuditEvent.UserID
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("• ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
