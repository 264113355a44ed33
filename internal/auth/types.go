package auth

import (
	"time"
)

// Method is the credential type presented by an API caller.
type Method string

const (
	MethodBasic        Method = "basic"         // username/password
	MethodClientSecret Method = "client_secret" // client_id/client_secret
	MethodJWT          Method = "jwt"           // bearer token
)

// Resources guarded by the API.
const (
	ResourceDatastore = "datastore"
	ResourceVolume    = "volume"
	ResourceStatus    = "status"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Result is the outcome of a successful authentication.
type Result struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
	Token   *Token   `json:"token,omitempty"`
}

type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginRequest struct {
	Method       Method `json:"method"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Token        string `json:"token,omitempty"`
}

type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// rolePermissions grants admin everything, operator control of the
// datastore and volumes, and viewer read access.
var rolePermissions = map[string][]Permission{
	"admin": {
		{Resource: "*", Action: "*"},
	},
	"operator": {
		{Resource: ResourceDatastore, Action: "*"},
		{Resource: ResourceVolume, Action: "*"},
		{Resource: ResourceStatus, Action: "*"},
	},
	"viewer": {
		{Resource: ResourceDatastore, Action: ActionRead},
		{Resource: ResourceVolume, Action: ActionRead},
		{Resource: ResourceStatus, Action: ActionRead},
	},
}

// HasPermission reports whether any of roles grants action on resource.
func HasPermission(roles []string, resource, action string) bool {
	for _, role := range roles {
		for _, p := range rolePermissions[role] {
			if (p.Resource == "*" || p.Resource == resource) &&
				(p.Action == "*" || p.Action == action) {
				return true
			}
		}
	}
	return false
}
