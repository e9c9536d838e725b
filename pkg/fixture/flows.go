package fixture

// Flow is a manual flow card shown on the Manual Flows tab
type Flow struct {
	ID          string
	Name        string
	Description string
	Steps       []FlowStep
}

// FlowStep is one page of the flow runner dialog
type FlowStep struct {
	ID          string
	Name        string
	Description string
	Fields      []string
}

// FlowGroup groups flows by category
type FlowGroup struct {
	Category string
	Flows    []Flow
}

// FirstStep returns the step the runner opens on
func (f Flow) FirstStep() FlowStep {
	if len(f.Steps) == 0 {
		return FlowStep{}
	}
	return f.Steps[0]
}

// SampleGroups returns the flows the platform ships with
func SampleGroups() []FlowGroup {
	onboarding := Flow{
		ID:          "user-onboarding",
		Name:        "User Onboarding",
		Description: "A simple flow to onboard a new user.",
		Steps: []FlowStep{
			{ID: "personal-info", Name: "Personal Information", Description: "Please enter your personal details.", Fields: []string{"First Name", "Last Name", "Email Address"}},
			{ID: "password-setup", Name: "Password Setup", Description: "Choose a secure password.", Fields: []string{"Password", "Confirm Password"}},
			{ID: "confirmation", Name: "Confirmation", Description: "You are all set! Your account has been created."},
		},
	}
	leave := Flow{
		ID:          "leave-request",
		Name:        "Leave Request",
		Description: "Submit a request for time off.",
		Steps: []FlowStep{
			{ID: "request-details", Name: "Request Details", Description: "Provide details for your leave request.", Fields: []string{"Leave Type", "Start Date", "End Date"}},
			{ID: "reason", Name: "Reason for Leave", Description: "Briefly explain the reason for your absence.", Fields: []string{"Reason"}},
			{ID: "summary", Name: "Summary", Description: "Please review your leave request before submitting."},
		},
	}
	enrollment := Flow{
		ID:          "student-enrollment",
		Name:        "Student Enrollment & Course Assignment",
		Description: "Enroll a student and automatically assign them a default course.",
		Steps: []FlowStep{
			{ID: "program-selection", Name: "Program Selection", Description: "Choose the faculty, career, and level for the student.", Fields: []string{"Faculty", "Career", "Level"}},
			{ID: "student-details", Name: "Student Details & Enrollment", Description: "Enter student info to enroll them and assign a default course.", Fields: []string{"Student Name", "Student Email"}},
			{ID: "summary", Name: "Summary", Description: "This step is for confirmation after enrollment."},
		},
	}
	documents := Flow{
		ID:          "document-generation",
		Name:        "Document Generation Workflow",
		Description: "Generate official documents with different information modes.",
		Steps: []FlowStep{
			{ID: "document-type", Name: "Document Type Selection", Description: "Choose the type of document to generate.", Fields: []string{"Document Type"}},
			{ID: "document-details", Name: "Document Details", Description: "Provide specific details for document generation.", Fields: []string{"Recipient", "Purpose"}},
			{ID: "review", Name: "Review & Generate", Description: "Review details and generate the document."},
		},
	}
	helpdesk := Flow{
		ID:          "it-helpdesk",
		Name:        "IT Help Desk Ticket",
		Description: "Submit a technical support request with comprehensive guidance.",
		Steps: []FlowStep{
			{ID: "issue-classification", Name: "Issue Classification", Description: "Classify your technical issue for proper routing.", Fields: []string{"Category", "Priority"}},
			{ID: "issue-description", Name: "Issue Description", Description: "Provide detailed information about the problem.", Fields: []string{"Summary", "Details"}},
			{ID: "contact-info", Name: "Contact Information", Description: "Provide your contact details for follow-up.", Fields: []string{"Phone", "Preferred Contact Time"}},
		},
	}

	return []FlowGroup{
		{Category: "Human Resources", Flows: []Flow{onboarding, leave}},
		{Category: "Academics", Flows: []Flow{enrollment, documents}},
		{Category: "IT Support", Flows: []Flow{helpdesk}},
	}
}
