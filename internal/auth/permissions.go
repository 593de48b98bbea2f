package auth

// Permissions recognized by the admin API.
const (
	PermAll             = "*"
	PermRetentionRead   = "retention:read"
	PermRetentionRun    = "retention:run"
	PermPolicyWrite     = "policy:write"
	PermLegalHoldManage = "legalhold:manage"
)
