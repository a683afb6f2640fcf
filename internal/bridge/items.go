package bridge

import (
	"encoding/json"
)

// ItemType is the UI item discriminator.
type ItemType string

const (
	ItemAgentMessage     ItemType = "agentMessage"
	ItemReasoning        ItemType = "reasoning"
	ItemCommandExecution ItemType = "commandExecution"
)

const statusInProgress = "inProgress"

// Item is the latest known rendering of one turn item.
type Item struct {
	ID   string
	Type ItemType

	// Command execution fields.
	Command          *string
	Status           string
	ExitCode         json.RawMessage
	AggregatedOutput json.RawMessage

	// placeholder items carry only what the UI needs to open a row.
	placeholder bool
}

func agentMessageItem(id string) Item {
	return Item{ID: id, Type: ItemAgentMessage}
}

func reasoningItem(id string) Item {
	return Item{ID: id, Type: ItemReasoning}
}

func commandItem(id string, command string, status string, exitCode json.RawMessage, output json.RawMessage) Item {
	cmd := command
	return Item{
		ID:               id,
		Type:             ItemCommandExecution,
		Command:          &cmd,
		Status:           status,
		ExitCode:         rawOrNull(exitCode),
		AggregatedOutput: rawOrNull(output),
	}
}

func commandPlaceholderItem(id string) Item {
	return Item{ID: id, Type: ItemCommandExecution, Status: statusInProgress, placeholder: true}
}

func (it Item) MarshalJSON() ([]byte, error) {
	switch it.Type {
	case ItemAgentMessage:
		return json.Marshal(struct {
			ID   string   `json:"id"`
			Type ItemType `json:"type"`
			Text *string  `json:"text"`
		}{ID: it.ID, Type: it.Type})
	case ItemReasoning:
		return json.Marshal(struct {
			ID      string   `json:"id"`
			Type    ItemType `json:"type"`
			Summary []string `json:"summary"`
		}{ID: it.ID, Type: it.Type, Summary: []string{}})
	case ItemCommandExecution:
		if it.placeholder {
			return json.Marshal(struct {
				ID      string   `json:"id"`
				Type    ItemType `json:"type"`
				Command *string  `json:"command"`
				Status  string   `json:"status"`
			}{ID: it.ID, Type: it.Type, Command: it.Command, Status: it.Status})
		}
		return json.Marshal(struct {
			ID               string          `json:"id"`
			Type             ItemType        `json:"type"`
			Command          *string         `json:"command"`
			Status           string          `json:"status"`
			ExitCode         json.RawMessage `json:"exitCode"`
			AggregatedOutput json.RawMessage `json:"aggregatedOutput"`
		}{
			ID:               it.ID,
			Type:             it.Type,
			Command:          it.Command,
			Status:           it.Status,
			ExitCode:         rawOrNull(it.ExitCode),
			AggregatedOutput: rawOrNull(it.AggregatedOutput),
		})
	default:
		return json.Marshal(struct {
			ID   string   `json:"id"`
			Type ItemType `json:"type"`
		}{ID: it.ID, Type: it.Type})
	}
}
