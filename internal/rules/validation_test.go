package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/mohamedkhairy/diting/internal/models"
)

func TestValidateCondition_JSON(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		wantErr  bool
		wantPath string
		reason   string
	}{
		{name: "leaf close", json: `{"field":"close","op":">","value":150}`},
		{name: "string value", json: `{"field":"close","op":"=","value":"x"}`},
		{name: "bool value", json: `{"field":"close","op":"!=","value":false}`},
		{name: "empty AND", json: `{"logic":"AND","conditions":[]}`},
		{name: "nested", json: `{"logic":"OR","conditions":[{"field":"volume","op":">=","value":1},{"logic":"NOT","conditions":[{"field":"open","op":"<","value":2}]}]}`},
		{name: "unknown field", json: `{"field":"unknown_field","op":">","value":1}`, wantErr: true, wantPath: "$", reason: "unknown field"},
		{name: "both shapes", json: `{"field":"close","op":">","value":1,"logic":"AND","conditions":[]}`, wantErr: true, wantPath: "$", reason: "mixes"},
		{name: "no shape", json: `{}`, wantErr: true, wantPath: "$", reason: "must be a leaf"},
		{name: "extra key", json: `{"field":"close","op":">","value":1,"note":"x"}`, wantErr: true, wantPath: "$", reason: "unknown keys: note"},
		{name: "bad op", json: `{"field":"close","op":"==","value":1}`, wantErr: true, reason: "unsupported operator"},
		{name: "null value", json: `{"field":"close","op":">","value":null}`, wantErr: true, reason: "value must be"},
		{name: "object value", json: `{"field":"close","op":">","value":{}}`, wantErr: true, reason: "value must be"},
		{name: "missing value", json: `{"field":"close","op":">"}`, wantErr: true, reason: `missing "value"`},
		{name: "missing conditions", json: `{"logic":"AND"}`, wantErr: true, reason: `missing "conditions"`},
		{name: "bad logic", json: `{"logic":"XOR","conditions":[]}`, wantErr: true, reason: "unsupported logic"},
		{name: "NOT arity", json: `{"logic":"NOT","conditions":[]}`, wantErr: true, reason: "exactly one"},
		{name: "mistyped field", json: `{"field":1,"op":">","value":1}`, wantErr: true, reason: "wrong value type"},
		{name: "nested error path", json: `{"logic":"AND","conditions":[{"field":"close","op":">","value":1},{"field":"oops","op":">","value":1}]}`, wantErr: true, wantPath: "$.conditions[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCondition([]byte(tt.json))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ParseCondition() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ParseCondition() expected error")
			}
			if !errors.Is(err, models.ErrInvalidCondition) {
				t.Errorf("expected ErrInvalidCondition, got %v", err)
			}
			var vErr *models.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if tt.wantPath != "" && vErr.Path != tt.wantPath {
				t.Errorf("path = %s, want %s", vErr.Path, tt.wantPath)
			}
			if tt.reason != "" && !strings.Contains(vErr.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to contain %q", vErr.Reason, tt.reason)
			}
		})
	}
}

func TestValidateCondition_CodeBuilt(t *testing.T) {
	if err := ValidateCondition(models.Leaf(models.FieldClose, models.OpGreater, 1)); err != nil {
		t.Errorf("valid leaf rejected: %v", err)
	}
	if err := ValidateCondition(models.Leaf("unknown_field", models.OpGreater, 1)); err == nil {
		t.Error("unknown field accepted")
	}
	if err := ValidateCondition(models.Leaf(models.FieldClose, models.OpGreater, nil)); err == nil {
		t.Error("leaf without value accepted")
	}
	if err := ValidateCondition(models.And(nil)); err == nil {
		t.Error("null child accepted")
	}
	if err := ValidateCondition(nil); err == nil {
		t.Error("nil tree accepted")
	}
}

func TestValidateRule(t *testing.T) {
	rule := &models.Rule{
		Name:      "r",
		Symbol:    "AAPL",
		Condition: models.Leaf(models.FieldClose, models.OpGreater, 1),
	}
	if err := ValidateRule(rule); err != nil {
		t.Fatalf("ValidateRule() error = %v", err)
	}

	rule.Condition = models.Leaf("bogus", models.OpGreater, 1)
	if err := ValidateRule(rule); !errors.Is(err, models.ErrInvalidCondition) {
		t.Errorf("expected invalid condition, got %v", err)
	}

	if err := ValidateRule(nil); err == nil {
		t.Error("nil rule accepted")
	}
}

func TestParseCondition_InvalidJSON(t *testing.T) {
	if _, err := ParseCondition([]byte(`[`)); !errors.Is(err, models.ErrInvalidCondition) {
		t.Errorf("expected ErrInvalidCondition, got %v", err)
	}
}

func TestParseRule(t *testing.T) {
	rule, err := ParseRuleFromReader(strings.NewReader(`{
		"name": "breakout",
		"symbol": "AAPL",
		"brokers": ["futu"],
		"condition": {"field": "close", "op": ">", "value": 150},
		"webhook_url": "http://localhost/hook",
		"tag": "desk",
		"enabled": true
	}`))
	if err != nil {
		t.Fatalf("ParseRule() error = %v", err)
	}
	if rule.Condition.Field != models.FieldClose || rule.Tag != "desk" {
		t.Errorf("unexpected rule: %+v", rule)
	}

	if _, err := ParseRule([]byte(`{"name":"x","symbol":"A","condition":{"logic":"NOT","conditions":[]}}`)); err == nil {
		t.Error("expected NOT arity rejection")
	}
}
