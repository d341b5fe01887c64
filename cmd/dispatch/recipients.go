package main

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Notifuse/dispatch/internal/domain"
)

// parseRecipients reads a JSON array of recipients. Each entry is either an
// address string or an object with email, name and data.
func parseRecipients(raw []byte) ([]domain.Recipient, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("recipients file is not valid JSON")
	}
	jsonResult := gjson.ParseBytes(raw)
	if !jsonResult.IsArray() {
		return nil, fmt.Errorf("recipients must be an array")
	}

	entries := jsonResult.Array()
	recipients := make([]domain.Recipient, 0, len(entries))
	for i, entry := range entries {
		recipient, err := recipientFromJSON(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient at index %d: %w", i, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

func recipientFromJSON(entry gjson.Result) (domain.Recipient, error) {
	if entry.Type == gjson.String {
		return domain.Recipient{Email: strings.TrimSpace(entry.String())}, nil
	}
	if !entry.IsObject() {
		return domain.Recipient{}, fmt.Errorf("expected a string or an object")
	}

	email := entry.Get("email")
	if !email.Exists() || email.Type != gjson.String {
		return domain.Recipient{}, fmt.Errorf("email is required")
	}

	recipient := domain.Recipient{
		Email: strings.TrimSpace(email.String()),
		Name:  entry.Get("name").String(),
	}
	if data := entry.Get("data"); data.IsObject() {
		if values, ok := data.Value().(map[string]interface{}); ok {
			recipient.Data = values
		}
	}
	return recipient, nil
}
