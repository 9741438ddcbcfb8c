package models

// Source is a stored data source row.
type Source struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Regions lists the region codes the CLI offers, with display names.
// GLOBAL means worldwide.
var Regions = []struct {
	Code string
	Name string
}{
	{"GLOBAL", "Worldwide"},
	{"US", "United States"},
	{"GB", "United Kingdom"},
	{"CA", "Canada"},
	{"AU", "Australia"},
	{"DE", "Germany"},
	{"FR", "France"},
	{"JP", "Japan"},
	{"IN", "India"},
	{"BR", "Brazil"},
	{"MX", "Mexico"},
}
