package model

// Identity 连接握手时由身份校验方解析一次，连接存活期间不变
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
