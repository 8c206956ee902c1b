package tools

// Tool names - Gmail Tools
const (
	ToolGmailSearch = "gmail_search"
	ToolGmailUnread = "gmail_unread"
	ToolGmailRecent = "gmail_recent"
	ToolGmailSend   = "gmail_send"
)

// Tool names - Calendar Tools
const (
	ToolCalendarToday    = "calendar_today"
	ToolCalendarUpcoming = "calendar_upcoming"
	ToolCalendarNext     = "calendar_next"
	ToolCalendarCreate   = "calendar_create"
)

// Tool names - Drive Tools
const (
	ToolDriveSearch = "drive_search"
	ToolDriveRecent = "drive_recent"
)

// Tool names - Swarm & Revenue Tools
const (
	ToolSwarmStatus    = "swarm_status"
	ToolProphetStats   = "prophet_stats"
	ToolRevenueSummary = "revenue_summary"
)

// Integration names as reported by config.Integrations
const (
	IntegrationGoogle   = "google"
	IntegrationSwarm    = "swarm"
	IntegrationSupabase = "supabase"
)

// IntegrationRequirements maps every known tool to the integration it needs.
// A tool whose integration is not configured is never registered.
var IntegrationRequirements = map[string]string{
	ToolGmailSearch:      IntegrationGoogle,
	ToolGmailUnread:      IntegrationGoogle,
	ToolGmailRecent:      IntegrationGoogle,
	ToolGmailSend:        IntegrationGoogle,
	ToolCalendarToday:    IntegrationGoogle,
	ToolCalendarUpcoming: IntegrationGoogle,
	ToolCalendarNext:     IntegrationGoogle,
	ToolCalendarCreate:   IntegrationGoogle,
	ToolDriveSearch:      IntegrationGoogle,
	ToolDriveRecent:      IntegrationGoogle,
	ToolSwarmStatus:      IntegrationSwarm,
	ToolProphetStats:     IntegrationSwarm,
	ToolRevenueSummary:   IntegrationSupabase,
}

// GetAllTools returns every tool spec in catalogue order
func GetAllTools() []ToolSpec {
	tools := []ToolSpec{}

	// Google Tools
	tools = append(tools, GetGmailTools()...)
	tools = append(tools, GetCalendarTools()...)
	tools = append(tools, GetDriveTools()...)

	// Swarm & Revenue Tools
	tools = append(tools, GetSwarmTools()...)
	tools = append(tools, GetRevenueTools()...)

	return tools
}
