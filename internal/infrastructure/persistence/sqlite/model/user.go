package model

type User struct {
	Username       string `gorm:"column:username;type:text;primaryKey"`
	HashedPassword string `gorm:"column:hashed_password;type:text;not null"`
	FirstName      string `gorm:"column:first_name;type:text;not null;default:''"`
	LastName       string `gorm:"column:last_name;type:text;not null;default:''"`
	Status         string `gorm:"column:status;type:text;not null;default:'active'"`
	Metadata       string `gorm:"column:metadata;type:text;not null;default:'{}'"`
	CreatedAt      string `gorm:"column:created_at;type:text;not null"`
	UpdatedAt      string `gorm:"column:updated_at;type:text;not null"`
}

func (User) TableName() string {
	return "users"
}
