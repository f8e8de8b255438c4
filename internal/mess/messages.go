package mess

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds carried in the messMessage discriminator.
const (
	KindClientHere          = "MESS_CLIENT_HERE"
	KindAvailableProperties = "MESS_AVAILABLE_PROPERTIES"
	KindPropUpdate          = "MESS_PROP_UPDATE"
)

var (
	// ErrNotMess marks payloads that carry no messMessage at all. They
	// belong to other scripts on the page and are ignored.
	ErrNotMess = errors.New("not a mess message")
	// ErrUnknownMessage marks a messMessage kind the unit does not handle.
	ErrUnknownMessage = errors.New("unknown mess message")
	// ErrMissingProp marks a property update without a prop name.
	ErrMissingProp = errors.New("prop update without prop")
)

// Outbound is a message posted to the parent window.
type Outbound interface {
	Kind() string
}

// ClientHere announces the unit to its host.
type ClientHere struct {
	MessMessage string `json:"messMessage"`
	WindowName  string `json:"windowName"`
}

func (ClientHere) Kind() string { return KindClientHere }

// PropertyDescriptor describes one editable field for the host.
type PropertyDescriptor struct {
	DataType     string `json:"dataType"`
	DefaultValue any    `json:"defaultValue"`
}

// AvailableProperties publishes the field schema to a properties host.
type AvailableProperties struct {
	MessMessage         string                        `json:"messMessage"`
	Data                map[string]any                `json:"data"`
	BoundProps          []string                      `json:"boundProps"`
	AvailableProperties map[string]PropertyDescriptor `json:"availableProperties"`
	WindowName          string                        `json:"windowName"`
}

func (AvailableProperties) Kind() string { return KindAvailableProperties }

// NewClientHere builds the announcement for windowName.
func NewClientHere(windowName string) ClientHere {
	return ClientHere{MessMessage: KindClientHere, WindowName: windowName}
}

// NewAvailableProperties builds the schema message from the editable data.
// Every field is published with the "default" data type.
func NewAvailableProperties(data map[string]any, windowName string) AvailableProperties {
	props := make(map[string]PropertyDescriptor, len(data))
	for k, v := range data {
		props[k] = PropertyDescriptor{DataType: "default", DefaultValue: v}
	}
	return AvailableProperties{
		MessMessage:         KindAvailableProperties,
		Data:                data,
		BoundProps:          []string{},
		AvailableProperties: props,
		WindowName:          windowName,
	}
}

// PropUpdate is an inbound field update from the editor.
type PropUpdate struct {
	Prop      string `json:"prop"`
	PropValue any    `json:"propValue"`
}

type envelope struct {
	MessMessage *string         `json:"messMessage"`
	Prop        *string         `json:"prop"`
	PropValue   json.RawMessage `json:"propValue"`
}

// ParseInbound decodes a raw message payload. Only property updates are
// accepted; everything else yields an error describing why it was dropped.
func ParseInbound(raw []byte) (PropUpdate, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PropUpdate{}, fmt.Errorf("decode message: %w", err)
	}
	if env.MessMessage == nil || *env.MessMessage == "" {
		return PropUpdate{}, ErrNotMess
	}
	if *env.MessMessage != KindPropUpdate {
		return PropUpdate{}, fmt.Errorf("%w: %s", ErrUnknownMessage, *env.MessMessage)
	}
	if env.Prop == nil || *env.Prop == "" {
		return PropUpdate{}, ErrMissingProp
	}

	update := PropUpdate{Prop: *env.Prop}
	if len(env.PropValue) > 0 {
		if err := json.Unmarshal(env.PropValue, &update.PropValue); err != nil {
			return PropUpdate{}, fmt.Errorf("decode propValue: %w", err)
		}
	}
	return update, nil
}

// EncodePropUpdate is the editor side of ParseInbound.
func EncodePropUpdate(prop string, value any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"messMessage": KindPropUpdate,
		"prop":        prop,
		"propValue":   value,
	})
}
