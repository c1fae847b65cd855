package api

// TurnStatus is the conversation-level processing state, distinct from
// the per-kind generation workflow status.
type TurnStatus struct {
	Status string `json:"status"`
}

// FilePage is one extracted page of an uploaded document.
type FilePage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// FileContent is the extraction result for one uploaded file.
type FileContent struct {
	FileID string     `json:"file_id"`
	Name   string     `json:"name"`
	Pages  []FilePage `json:"pages"`
}

// Requirement is one generated requirement row.
type Requirement struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// Scenario is one generated scenario row.
type Scenario struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	RequirementRef string `json:"requirement_ref,omitempty"`
}

// TestCase is one generated test case row.
type TestCase struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Title          string   `json:"title"`
	Steps          []string `json:"steps,omitempty"`
	ExpectedResult string   `json:"expected_result,omitempty"`
	ScenarioRef    string   `json:"scenario_ref,omitempty"`
}

// generationStatusWire carries whichever per-kind field the service set.
type generationStatusWire struct {
	RequirementGeneration string `json:"requirement_generation"`
	ScenarioGeneration    string `json:"scenario_generation"`
	TestCaseGeneration    string `json:"testcase_generation"`
	Confirmed             bool   `json:"confirmed"`
	TotalInserted         *int   `json:"total_inserted"`
}
