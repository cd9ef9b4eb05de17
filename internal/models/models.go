package models

import (
	"strings"
	"time"
)

// Rule is a user-defined alert rule watched by the quote engines
type Rule struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Symbol     string         `json:"symbol"`
	Brokers    []string       `json:"brokers"`
	Condition  *ConditionNode `json:"condition"`
	WebhookURL string         `json:"webhook_url"`
	Tag        string         `json:"tag"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate checks the rule's required fields. The condition grammar is
// checked by the rules package.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidRuleName
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return ErrInvalidSymbol
	}
	if r.Condition == nil {
		return ErrMissingCondition
	}
	if r.WebhookURL != "" && !strings.HasPrefix(r.WebhookURL, "http://") && !strings.HasPrefix(r.WebhookURL, "https://") {
		return ErrInvalidWebhook
	}
	return nil
}

// ServesBroker reports whether an engine with the given broker tag may serve
// this rule. A rule without brokers is served by no engine.
func (r *Rule) ServesBroker(tag string) bool {
	for _, b := range r.Brokers {
		if strings.EqualFold(strings.TrimSpace(b), tag) {
			return true
		}
	}
	return false
}

// Trigger is an append-only audit record written when a rule fires
type Trigger struct {
	ID        int64     `json:"id"`
	RuleID    int64     `json:"rule_id"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookPayload is the JSON body posted to a rule's webhook
type WebhookPayload struct {
	Name   string         `json:"name"`
	Symbol string         `json:"symbol"`
	OHLC   *QuoteSnapshot `json:"ohlc"`
	Tag    string         `json:"tag"`
}
