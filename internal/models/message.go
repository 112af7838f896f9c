package models

import "fmt"

// Kind tags a Message as one of the four conversation entry variants.
type Kind int

const (
	KindSystem Kind = iota
	KindUser
	KindAssistant
	KindError
)

var kindNames = [...]string{
	KindSystem:    "system",
	KindUser:      "user",
	KindAssistant: "assistant",
	KindError:     "error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind as its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("models: invalid message kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a wire name; unknown names are rejected.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("models: unknown message type %q", string(b))
}

// Message is one append-only entry in a thread's log. Only ShowProducts is
// ever changed after the message has been appended.
type Message struct {
	ID           int64     `json:"id"`
	Kind         Kind      `json:"type"`
	Content      string    `json:"content"`
	Examples     []string  `json:"examples,omitempty"`     // system messages only
	Products     []Product `json:"products,omitempty"`     // assistant messages only
	ShowProducts bool      `json:"showProducts"`
}

// Clone copies the message including its slices.
func (m Message) Clone() Message {
	out := m
	if m.Examples != nil {
		out.Examples = append([]string(nil), m.Examples...)
	}
	if m.Products != nil {
		out.Products = append([]Product(nil), m.Products...)
	}
	return out
}

// SystemMessage builds a system announcement carrying optional examples.
func SystemMessage(content string, examples []string) Message {
	return Message{Kind: KindSystem, Content: content, Examples: examples}
}

// UserMessage builds a message typed by the user.
func UserMessage(content string) Message {
	return Message{Kind: KindUser, Content: content}
}

// AssistantMessage builds a reply from the remote assistant.
func AssistantMessage(content string, products []Product) Message {
	return Message{Kind: KindAssistant, Content: content, Products: products}
}

// ErrorMessage builds the inline entry shown when a dispatch fails.
func ErrorMessage(reason string) Message {
	return Message{Kind: KindError, Content: fmt.Sprintf("Error: %s. Please try again.", reason)}
}
