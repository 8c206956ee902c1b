package tools

// GetGmailTools returns the Gmail tool specs
func GetGmailTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolGmailSearch,
			Description: "Search Gmail. Examples: 'from:john', 'subject:invoice', 'is:unread', 'martin marietta'",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": property("string", "Gmail search query"),
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolGmailUnread,
			Description: "Get count of unread emails",
		},
		{
			Name:        ToolGmailRecent,
			Description: "Get most recent emails",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"count": propertyWithDefault("integer", "How many emails to return", 5),
				},
			},
		},
		{
			Name:        ToolGmailSend,
			Description: "Send an email",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"to":      property("string", "Recipient email"),
					"subject": property("string", ""),
					"body":    property("string", ""),
				},
				Required: []string{"to", "subject", "body"},
			},
		},
	}
}

// GetCalendarTools returns the Google Calendar tool specs
func GetCalendarTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolCalendarToday,
			Description: "Get today's calendar events",
		},
		{
			Name:        ToolCalendarUpcoming,
			Description: "Get upcoming events",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"days": propertyWithDefault("integer", "Number of days to look ahead", 7),
				},
			},
		},
		{
			Name:        ToolCalendarNext,
			Description: "Get the next upcoming event",
		},
		{
			Name:        ToolCalendarCreate,
			Description: "Create a calendar event",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"title":       property("string", ""),
					"start":       property("string", "ISO datetime e.g. 2025-01-30T14:00:00"),
					"end":         property("string", "ISO datetime"),
					"description": propertyWithDefault("string", "", ""),
				},
				Required: []string{"title", "start", "end"},
			},
		},
	}
}

// GetDriveTools returns the Google Drive tool specs
func GetDriveTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolDriveSearch,
			Description: "Search Google Drive for files",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": property("string", "Search term"),
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolDriveRecent,
			Description: "Get recently modified files",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"count": propertyWithDefault("integer", "How many files to return", 10),
				},
			},
		},
	}
}
