// 文件路径: internal/repository/types.go
// 模块说明: 这是 internal 模块里的 types 逻辑，描述持久化的配置文件与节点选择记录。
package repository

// Profile is an imported Clash configuration file.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Source    string `json:"source"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Selection records the member a user last picked for a Selector group.
type Selection struct {
	ProfileID string `json:"profile_i_d"`
	GroupName string `json:"group_name"`
	ProxyName string `json:"proxy_name"`
	UpdatedAt int64  `json:"updated_at"`
}

// Pin records a forced member for a group, independent of the group's own choice.
type Pin struct {
	ProfileID string `json:"profile_i_d"`
	GroupName string `json:"group_name"`
	ProxyName string `json:"proxy_name"`
	UpdatedAt int64  `json:"updated_at"`
}
