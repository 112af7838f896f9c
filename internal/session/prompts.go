package session

import "github.com/zulandar/labdesk/internal/models"

// WelcomeText opens every new thread.
const WelcomeText = "Welcome! I'm your IT hardware assistant. Choose a mode and start chatting!"

var examplePrompts = map[models.Mode][]string{
	models.ModeGeneral: {
		"What IT hardware is available for laboratories?",
		"What options do I have for BL2 and vivarium environments?",
		"Can you recommend hardware for scientific applications?",
	},
	models.ModeProductSearch: {
		"I need a mini PC for the lab under 1000 CHF",
		"Show me tablets suitable for BL2 environments",
		"What mobile carts are available for laboratory use?",
	},
}

// Examples returns the suggested prompts for mode, or nil if it has none.
func Examples(mode models.Mode) []string {
	ex := examplePrompts[mode]
	if ex == nil {
		return nil
	}
	return append([]string(nil), ex...)
}

// WelcomeMessage is the first entry of a fresh thread.
func WelcomeMessage() models.Message {
	return models.SystemMessage(WelcomeText, Examples(models.ModeGeneral))
}

func modeAnnouncement(mode models.Mode, product *models.Product) string {
	switch mode {
	case models.ModeGeneral:
		return "Switched to general conversation mode. Here are some examples of what you can ask:"
	case models.ModeProductSearch:
		return "Switched to product search mode. Try asking something like:"
	case models.ModeProductSpecific:
		if product == nil {
			return "Please select a product first."
		}
		return "Now discussing: " + product.Name() + ". Ask specific questions about this product."
	}
	return ""
}

// Placeholder is the input hint shown for the given mode and selection.
func Placeholder(mode models.Mode, product *models.Product) string {
	switch mode {
	case models.ModeProductSearch:
		return "Search for products..."
	case models.ModeProductSpecific:
		if product == nil {
			return "Select a product first..."
		}
		return "Ask about " + product.Name() + "..."
	}
	return "Type your message..."
}
