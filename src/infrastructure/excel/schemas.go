package excel

// LeadSchema is the workbook layout for bulk lead uploads.
var LeadSchema = Schema{
	Title: "Leads Template",
	Columns: []Column{
		{Name: "name", Required: true, Kind: KindString, Description: "Lead name", Example: "Jane Smith"},
		{Name: "company", Required: true, Kind: KindString, Description: "Company name", Example: "Tech Solutions Inc"},
		{Name: "email", Required: true, Kind: KindEmail, Description: "Email address", Example: "jane.smith@techsolutions.com"},
		{Name: "phone", Kind: KindString, Description: "Phone number", Example: "+1-234-567-8901"},
		{Name: "source", Kind: KindString, Description: "Lead source", Example: "Website"},
		{Name: "status", Kind: KindString, Description: "Lead status", Example: "New"},
		{Name: "score", Kind: KindInt, Description: "Lead score (0-100)", Example: "75"},
		{Name: "value", Kind: KindString, Description: "Estimated deal value", Example: "$25,000"},
		{Name: "assigned_to", Kind: KindString, Description: "Owner", Example: "Alex Rivera"},
	},
}

// ContactSchema is the workbook layout for bulk contact uploads.
var ContactSchema = Schema{
	Title: "Contacts Template",
	Columns: []Column{
		{Name: "name", Required: true, Kind: KindString, Description: "Full name of the contact", Example: "John Doe"},
		{Name: "email", Required: true, Kind: KindEmail, Description: "Email address", Example: "john.doe@example.com"},
		{Name: "phone", Kind: KindString, Description: "Phone number", Example: "+1-234-567-8900"},
		{Name: "company", Kind: KindString, Description: "Company name", Example: "Acme Corp"},
		{Name: "position", Kind: KindString, Description: "Job position/title", Example: "Sales Manager"},
		{Name: "location", Kind: KindString, Description: "City or region", Example: "Austin, TX"},
		{Name: "status", Kind: KindString, Description: "Contact status", Example: "Active"},
		{Name: "last_contact", Kind: KindString, Description: "Date of last touchpoint", Example: "2025-06-01"},
	},
}
