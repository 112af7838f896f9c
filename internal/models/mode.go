package models

import "fmt"

// Mode is the interaction contract of a thread.
type Mode string

const (
	ModeGeneral         Mode = "general"
	ModeProductSearch   Mode = "product_search"
	ModeProductSpecific Mode = "product_specific"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeGeneral, ModeProductSearch, ModeProductSpecific}

// ParseMode converts a wire string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGeneral, ModeProductSearch, ModeProductSpecific:
		return Mode(s), nil
	}
	return "", fmt.Errorf("models: unknown mode %q", s)
}

// Label is the human-readable mode name shown on mode buttons.
func (m Mode) Label() string {
	switch m {
	case ModeGeneral:
		return "General"
	case ModeProductSearch:
		return "Product Search"
	case ModeProductSpecific:
		return "Product Specific"
	}
	return string(m)
}

// Tooltip describes what the mode is for.
func (m Mode) Tooltip() string {
	switch m {
	case ModeGeneral:
		return "Ask general questions about IT hardware"
	case ModeProductSearch:
		return "Search for specific products based on criteria"
	case ModeProductSpecific:
		return "Get detailed information about a selected product"
	}
	return ""
}
