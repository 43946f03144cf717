package rbac

// 权限常量
const (
	PermissionReadTask     = "task:read"
	PermissionWriteTask    = "task:write"
	PermissionLinkChat     = "channel:link"
	PermissionCalendar     = "calendar:connect"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadTask,
		PermissionWriteTask,
		PermissionLinkChat,
		PermissionCalendar,
	},
	RoleAdmin: {
		PermissionReadTask,
		PermissionWriteTask,
		PermissionLinkChat,
		PermissionCalendar,
		PermissionReplayOutbox,
	},
}

// NormalizeRole 未携带角色的 token 视为普通用户
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查权限（返回错误而不是布尔值，便于处理）
func CheckPermission(ownerID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			OwnerID:    ownerID,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	OwnerID    string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
