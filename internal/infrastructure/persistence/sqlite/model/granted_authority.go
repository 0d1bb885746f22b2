package model

type GrantedAuthority struct {
	Authority   string  `gorm:"column:authority;type:text;primaryKey"`
	Description string  `gorm:"column:description;type:text;not null;default:''"`
	Parent      *string `gorm:"column:parent;type:text"`
	IsGroup     bool    `gorm:"column:is_group;not null;default:0"`
}

func (GrantedAuthority) TableName() string {
	return "granted_authorities"
}

type UserAuthority struct {
	Username  string `gorm:"column:username;type:text;primaryKey"`
	Authority string `gorm:"column:authority;type:text;primaryKey;index:idx_user_authorities_authority"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (UserAuthority) TableName() string {
	return "user_authorities"
}
