package dispatch

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildSlackPayload(t *testing.T) {
	p := BuildSlackPayload(testDetection())

	if len(p.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(p.Blocks))
	}
	if p.Blocks[0].Type != "header" {
		t.Errorf("first block type = %q, want header", p.Blocks[0].Type)
	}
	if p.Blocks[0].Text == nil || !strings.Contains(p.Blocks[0].Text.Text, "Anomaly Detected") {
		t.Error("header should announce the anomaly")
	}
	if len(p.Blocks[1].Fields) != 4 {
		t.Errorf("fields section has %d fields, want 4", len(p.Blocks[1].Fields))
	}

	var haveSeverity, haveScore bool
	for _, f := range p.Blocks[1].Fields {
		if strings.Contains(f.Text, "High") {
			haveSeverity = true
		}
		if strings.Contains(f.Text, "0.84") {
			haveScore = true
		}
	}
	if !haveSeverity || !haveScore {
		t.Errorf("fields missing severity or score: %+v", p.Blocks[1].Fields)
	}

	if !strings.Contains(p.Blocks[2].Text.Text, "project:proj-9") {
		t.Error("entities section should list affected entities")
	}
	if !strings.Contains(p.Blocks[3].Text.Text, "authorized") {
		t.Error("actions section should list suggested actions")
	}
}

func TestBuildTeamsPayload(t *testing.T) {
	p := BuildTeamsPayload(testDetection())

	if p.Type != "message" {
		t.Errorf("Type = %q, want message", p.Type)
	}
	if len(p.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(p.Attachments))
	}
	att := p.Attachments[0]
	if att.ContentType != "application/vnd.microsoft.card.adaptive" {
		t.Errorf("ContentType = %q", att.ContentType)
	}

	var factSet *TeamsCardElement
	textBlocks := 0
	for i := range att.Content.Body {
		switch att.Content.Body[i].Type {
		case "FactSet":
			factSet = &att.Content.Body[i]
		case "TextBlock":
			textBlocks++
		}
	}
	if factSet == nil {
		t.Fatal("card body has no FactSet")
	}
	if len(factSet.Facts) != 4 {
		t.Errorf("FactSet has %d facts, want 4", len(factSet.Facts))
	}
	if textBlocks < 3 {
		t.Errorf("card body has %d text blocks, want title plus two detail blocks", textBlocks)
	}
}

func TestBuildZapierPayload(t *testing.T) {
	p := BuildZapierPayload(testDetection())

	if p.ID != "det-1" || p.AuditEventID != "evt-1" {
		t.Errorf("ids = %q/%q", p.ID, p.AuditEventID)
	}
	if p.DetectionTime != "2026-03-15T03:00:01Z" {
		t.Errorf("DetectionTime = %q, want RFC 3339 string", p.DetectionTime)
	}
	if p.Event.Timestamp != "2026-03-15T03:00:00Z" {
		t.Errorf("Event.Timestamp = %q, want RFC 3339 string", p.Event.Timestamp)
	}
	if p.Event.EventType != "budget_change" || p.Event.TenantID != "tenant-1" {
		t.Errorf("nested event wrong: %+v", p.Event)
	}

	// The Zapier body must stay flat JSON with primitive leaf values.
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["anomaly_score"].(float64); !ok {
		t.Error("anomaly_score should serialize as a JSON number")
	}
	if _, ok := decoded["detection_timestamp"].(string); !ok {
		t.Error("detection_timestamp should serialize as a string")
	}
}

func TestBuildZapierPayload_NilEvent(t *testing.T) {
	d := testDetection()
	d.AuditEvent = nil
	p := BuildZapierPayload(d)
	if p.Event.ID != "" {
		t.Errorf("nil event should leave nested event zero, got %+v", p.Event)
	}
}
