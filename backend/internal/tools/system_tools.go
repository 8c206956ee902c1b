package tools

// GetSwarmTools returns the swarm monitoring tool specs
func GetSwarmTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolSwarmStatus,
			Description: "Get status of all swarms (Prophet, Hydra, Vulture, Signal)",
		},
		{
			Name:        ToolProphetStats,
			Description: "Get Prophet lead generation statistics",
		},
	}
}

// GetRevenueTools returns the revenue tool specs
func GetRevenueTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolRevenueSummary,
			Description: "Get revenue summary: today, MTD, MRR, subscriber count",
		},
	}
}
