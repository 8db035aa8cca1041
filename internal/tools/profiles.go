package tools

import "github.com/haasonsaas/crew/pkg/models"

// Profile names. A profile is a named, pre-defined subset of the catalog
// assigned by agent subtype at creation time, so new agents never start
// with the full catalog.
const (
	ProfileSupport  = "support"
	ProfileSales    = "sales"
	ProfileBooking  = "booking"
	ProfileReadOnly = "readonly"

	// ProfileAdmin is the universal set: no restriction from the profile
	// layer.
	ProfileAdmin = "admin"
)

// ProfileDefaults maps profile names to their tool sets. ProfileAdmin is
// absent on purpose: an admin profile imposes no intersection.
var ProfileDefaults = map[string][]string{
	ProfileSupport: {
		UniversalTool,
		"crm_lookup",
		"crm_update",
		"order_status",
		"create_invoice",
		HandoffTool,
		EscalateTool,
	},
	ProfileSales: {
		UniversalTool,
		"crm_lookup",
		"crm_update",
		"checkout_link",
		"publish_page",
		HandoffTool,
		EscalateTool,
	},
	ProfileBooking: {
		UniversalTool,
		"booking_availability",
		"booking_create",
		"crm_lookup",
		HandoffTool,
		EscalateTool,
	},
	ProfileReadOnly: {
		UniversalTool,
		"crm_lookup",
		"order_status",
		"booking_availability",
		EscalateTool,
	},
}

// ProfileForSubtype returns the profile assigned to new agents of a subtype.
func ProfileForSubtype(subtype models.AgentSubtype) string {
	switch subtype {
	case models.SubtypeSupport:
		return ProfileSupport
	case models.SubtypeSales:
		return ProfileSales
	case models.SubtypeBooking:
		return ProfileBooking
	case models.SubtypeAdmin:
		return ProfileAdmin
	default:
		return ProfileReadOnly
	}
}

// ProfileTools returns the tool set for a profile. The boolean is false for
// universal profiles (admin or unknown), which impose no restriction.
func ProfileTools(profile string) ([]string, bool) {
	if profile == "" || profile == ProfileAdmin {
		return nil, false
	}
	tools, ok := ProfileDefaults[profile]
	return tools, ok
}
