package model

// EventType is the discriminator consumers dispatch on.
type EventType string

const (
	EventTypeUpdate         EventType = "config:update"
	EventTypeComplete       EventType = "config:complete"
	EventTypeCloseVoiceMode EventType = "config:close_voice_mode"
)

// ConfigTopic is the data-channel topic configuration events are broadcast on.
const ConfigTopic = "config"

// ConfigEvent is the payload broadcast to room observers.
// ItemsConfigured holds a SelectedOption for updates and a Document for complete/close.
type ConfigEvent struct {
	Type            EventType `json:"type"`
	ItemsConfigured any       `json:"items_configured"`
}

// UpdateEvent builds the event broadcast after an accepted part update.
func UpdateEvent(o SelectedOption) ConfigEvent {
	return ConfigEvent{Type: EventTypeUpdate, ItemsConfigured: o}
}

// CompleteEvent builds the event broadcast when the user confirms.
func CompleteEvent(d *Document) ConfigEvent {
	return ConfigEvent{Type: EventTypeComplete, ItemsConfigured: d}
}

// CloseVoiceModeEvent builds the event broadcast when the user closes voice mode.
func CloseVoiceModeEvent(d *Document) ConfigEvent {
	return ConfigEvent{Type: EventTypeCloseVoiceMode, ItemsConfigured: d}
}
