package auth

import (
	"fmt"

	"campusdesk/internal/model"
)

const (
	ResourceActivities    = "activities"
	ResourceConversations = "conversations"
	ResourceNotifications = "notifications"
	ResourceAgentRequests = "agent_requests"
	ResourceAccounts      = "accounts"
	ResourceFAQs          = "faqs"
	ResourceAdmin         = "admin"

	ActionRead  = "read"
	ActionWrite = "write"
)

type PermissionKey struct {
	Resource string
	Action   string
}

func (p PermissionKey) String() string {
	return p.Resource + ":" + p.Action
}

var defaultRolePermissions = map[model.Role][]PermissionKey{
	model.RoleAdmin: {
		{Resource: "*", Action: "*"},
	},
	model.RoleStudent: {
		{Resource: ResourceActivities, Action: ActionRead},
		{Resource: ResourceActivities, Action: ActionWrite},
		{Resource: ResourceConversations, Action: ActionRead},
		{Resource: ResourceConversations, Action: ActionWrite},
		{Resource: ResourceNotifications, Action: ActionRead},
		{Resource: ResourceNotifications, Action: ActionWrite},
		{Resource: ResourceAccounts, Action: ActionRead},
		{Resource: ResourceFAQs, Action: ActionRead},
	},
	model.RoleSupport: {
		{Resource: ResourceAgentRequests, Action: ActionRead},
		{Resource: ResourceAgentRequests, Action: ActionWrite},
		{Resource: ResourceConversations, Action: ActionRead},
		{Resource: ResourceNotifications, Action: ActionRead},
		{Resource: ResourceNotifications, Action: ActionWrite},
		{Resource: ResourceAccounts, Action: ActionRead},
		{Resource: ResourceFAQs, Action: ActionRead},
	},
}

func DefaultPermissionsForRole(role model.Role) []PermissionKey {
	return append([]PermissionKey(nil), defaultRolePermissions[role]...)
}

func ValidateRole(role model.Role) error {
	if _, ok := defaultRolePermissions[role]; !ok {
		return fmt.Errorf("unknown role: %s", role)
	}
	return nil
}

// PermissionSet expands a role into the "resource:action" keys it grants.
func PermissionSet(role model.Role) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range defaultRolePermissions[role] {
		out[p.String()] = struct{}{}
	}
	return out
}

func IsAllowed(role model.Role, resource, action string) bool {
	if role == model.RoleAdmin {
		return true
	}
	explicit := PermissionSet(role)
	if _, ok := explicit[resource+":"+action]; ok {
		return true
	}
	if _, ok := explicit[resource+":*"]; ok {
		return true
	}
	if _, ok := explicit["*:*"]; ok {
		return true
	}
	return false
}
