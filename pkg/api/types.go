package api

// WebhookPayload is the body the CMS sends to both webhook endpoints.
type WebhookPayload struct {
	Entity struct {
		ID string `json:"_id"`
	} `json:"entity"`
	Token string `json:"token"`
	User  struct {
		ID string `json:"_id"`
	} `json:"user"`
}

// WebhookResponse reports what a webhook call caused. PermissionsGranted sums
// newly written pairs across the pass and any coalesced reprocess runs; a call
// whose event merged into an already-running pass reports 0.
type WebhookResponse struct {
	Success            bool `json:"success"`
	PermissionsGranted int  `json:"permissions_granted"`
}

// JoinGroupRequest is the onboarding join call.
type JoinGroupRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// JoinGroupResponse reports the join outcome.
type JoinGroupResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MembershipResponse reports whether a person is a member of a group.
type MembershipResponse struct {
	IsMember bool `json:"isMember"`
}
