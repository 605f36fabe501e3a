package beckn

// Issue statuses on the wire.
const (
	IssueStatusOpen   = "OPEN"
	IssueStatusClosed = "CLOSED"
)

// Respondent actions reported by the counterparty.
const (
	RespondentProcessing   = "PROCESSING"
	RespondentCascaded     = "CASCADED"
	RespondentNeedMoreInfo = "NEED-MORE-INFO"
	RespondentResolved     = "RESOLVED"
)

// Complainant actions sent by this participant.
const (
	ComplainantOpen  = "OPEN"
	ComplainantClose = "CLOSE"
)

// Duration wraps an ISO-8601 duration.
type Duration struct {
	Duration string `json:"duration"`
}

// ComplainantInfo identifies who raised the issue.
type ComplainantInfo struct {
	Person  Person  `json:"person"`
	Contact Contact `json:"contact"`
}

// IssueOrderDetails references the order being complained about.
type IssueOrderDetails struct {
	ID           string        `json:"id"`
	State        string        `json:"state,omitempty"`
	ProviderID   string        `json:"provider_id,omitempty"`
	Items        []Item        `json:"items,omitempty"`
	Fulfillments []Fulfillment `json:"fulfillments,omitempty"`
}

// IssueDescription is the complaint text.
type IssueDescription struct {
	ShortDesc string `json:"short_desc"`
	LongDesc  string `json:"long_desc,omitempty"`
}

// IssueSource names the participant that raised the issue.
type IssueSource struct {
	NetworkParticipantID string `json:"network_participant_id"`
	Type                 string `json:"type"`
}

// ComplainantAction is one step taken by the complainant.
type ComplainantAction struct {
	ComplainantAction string `json:"complainant_action"`
	ShortDesc         string `json:"short_desc,omitempty"`
	UpdatedAt         string `json:"updated_at"`
	UpdatedBy         any    `json:"updated_by,omitempty"`
}

// RespondentAction is one step taken by the counterparty.
type RespondentAction struct {
	RespondentAction string `json:"respondent_action"`
	ShortDesc        string `json:"short_desc,omitempty"`
	UpdatedAt        string `json:"updated_at"`
	CascadedLevel    int    `json:"cascaded_level,omitempty"`
}

// IssueActions holds the action history of both parties.
type IssueActions struct {
	ComplainantActions []ComplainantAction `json:"complainant_actions,omitempty"`
	RespondentActions  []RespondentAction  `json:"respondent_actions,omitempty"`
}

// IssueResolution is the counterparty's proposed outcome.
type IssueResolution struct {
	ShortDesc       string `json:"short_desc,omitempty"`
	LongDesc        string `json:"long_desc,omitempty"`
	ActionTriggered string `json:"action_triggered,omitempty"`
	RefundAmount    string `json:"refund_amount,omitempty"`
}

// Issue is the grievance object exchanged by issue and on_issue.
type Issue struct {
	ID                     string             `json:"id"`
	Category               string             `json:"category,omitempty"`
	SubCategory            string             `json:"sub_category,omitempty"`
	ComplainantInfo        *ComplainantInfo   `json:"complainant_info,omitempty"`
	OrderDetails           *IssueOrderDetails `json:"order_details,omitempty"`
	Description            *IssueDescription  `json:"description,omitempty"`
	Source                 *IssueSource       `json:"source,omitempty"`
	ExpectedResponseTime   *Duration          `json:"expected_response_time,omitempty"`
	ExpectedResolutionTime *Duration          `json:"expected_resolution_time,omitempty"`
	Status                 string             `json:"status,omitempty"`
	IssueType              string             `json:"issue_type,omitempty"`
	IssueActions           *IssueActions      `json:"issue_actions,omitempty"`
	Resolution             *IssueResolution   `json:"resolution,omitempty"`
	CreatedAt              string             `json:"created_at,omitempty"`
	UpdatedAt              string             `json:"updated_at,omitempty"`
}

// LatestRespondentAction returns the most recent respondent action code.
func (i Issue) LatestRespondentAction() string {
	if i.IssueActions == nil || len(i.IssueActions.RespondentActions) == 0 {
		return ""
	}
	latest := i.IssueActions.RespondentActions[0]
	for _, a := range i.IssueActions.RespondentActions[1:] {
		if a.UpdatedAt >= latest.UpdatedAt {
			latest = a
		}
	}
	return latest.RespondentAction
}

// IssueMessage is the body of issue, on_issue and on_issue_status.
type IssueMessage struct {
	Issue Issue `json:"issue"`
}

// IssueStatusMessage polls an issue.
type IssueStatusMessage struct {
	IssueID string `json:"issue_id"`
}
