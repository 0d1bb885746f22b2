package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"devicehub/internal/domain/user"
	"devicehub/internal/errs"
	"devicehub/internal/infrastructure/persistence/sqlite/model"
	"devicehub/internal/ports"
)

type UserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ ports.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *UserRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return user.User{}, err
	}

	var row model.User
	if err := db.Where("username = ?", username).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user.User{}, errs.Wrapf(user.ErrNotFound, "user %q", username)
		}
		return user.User{}, errs.Wrap(err, "query user by username")
	}
	return mapUser(row)
}

func (r *UserRepository) ListGrantedAuthorities(ctx context.Context, username string) ([]user.GrantedAuthority, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&model.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, errs.Wrap(err, "check user exists")
	}
	if count == 0 {
		return nil, errs.Wrapf(user.ErrNotFound, "user %q", username)
	}

	var rows []model.GrantedAuthority
	if err := db.
		Select("granted_authorities.*").
		Joins("JOIN user_authorities ua ON ua.authority = granted_authorities.authority").
		Where("ua.username = ?", username).
		Order("granted_authorities.authority asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query granted authorities")
	}

	out := make([]user.GrantedAuthority, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapAuthority(row))
	}
	return out, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return user.User{}, err
	}

	now := r.timestamp()
	row, err := toUserRow(u)
	if err != nil {
		return user.User{}, err
	}
	row.CreatedAt = now
	row.UpdatedAt = now

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return user.User{}, errs.Wrap(res.Error, "insert user")
	}
	if res.RowsAffected == 0 {
		return user.User{}, errs.Wrapf(user.ErrAlreadyExists, "user %q", u.Username)
	}
	return mapUser(row)
}

func (r *UserRepository) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return user.User{}, err
	}

	row, err := toUserRow(u)
	if err != nil {
		return user.User{}, err
	}

	updates := map[string]any{
		"first_name": row.FirstName,
		"last_name":  row.LastName,
		"status":     row.Status,
		"metadata":   row.Metadata,
		"updated_at": r.timestamp(),
	}
	if row.HashedPassword != "" {
		updates["hashed_password"] = row.HashedPassword
	}

	res := db.Model(&model.User{}).Where("username = ?", u.Username).Updates(updates)
	if res.Error != nil {
		return user.User{}, errs.Wrap(res.Error, "update user")
	}
	if res.RowsAffected == 0 {
		return user.User{}, errs.Wrapf(user.ErrNotFound, "user %q", u.Username)
	}
	return r.GetUserByUsername(ctx, u.Username)
}

func (r *UserRepository) DeleteUser(ctx context.Context, username string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("username = ?", username).Delete(&model.UserAuthority{}).Error; err != nil {
		return errs.Wrap(err, "delete user authorities")
	}
	res := db.Where("username = ?", username).Delete(&model.User{})
	if res.Error != nil {
		return errs.Wrap(res.Error, "delete user")
	}
	if res.RowsAffected == 0 {
		return errs.Wrapf(user.ErrNotFound, "user %q", username)
	}
	return nil
}

// SetUserAuthorities replaces the user's grants with authorities. Unknown authority
// names fail with user.ErrNotFound and leave the existing grants untouched when the
// call runs inside a unit of work.
func (r *UserRepository) SetUserAuthorities(ctx context.Context, username string, authorities []string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if _, err := r.GetUserByUsername(ctx, username); err != nil {
		return err
	}

	if len(authorities) > 0 {
		var known int64
		if err := db.Model(&model.GrantedAuthority{}).Where("authority IN ?", authorities).Count(&known).Error; err != nil {
			return errs.Wrap(err, "check authorities exist")
		}
		if int(known) != len(authorities) {
			return errs.Wrapf(user.ErrNotFound, "authorities %s", strings.Join(authorities, ","))
		}
	}

	if err := db.Where("username = ?", username).Delete(&model.UserAuthority{}).Error; err != nil {
		return errs.Wrap(err, "clear user authorities")
	}
	if len(authorities) == 0 {
		return nil
	}

	now := r.timestamp()
	rows := make([]model.UserAuthority, 0, len(authorities))
	for _, a := range authorities {
		rows = append(rows, model.UserAuthority{Username: username, Authority: a, CreatedAt: now})
	}
	if err := db.Create(&rows).Error; err != nil {
		return errs.Wrap(err, "insert user authorities")
	}
	return nil
}

func (r *UserRepository) CreateGrantedAuthority(ctx context.Context, authority user.GrantedAuthority) (user.GrantedAuthority, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return user.GrantedAuthority{}, err
	}

	row := model.GrantedAuthority{
		Authority:   authority.Authority,
		Description: authority.Description,
		IsGroup:     authority.Group,
	}
	if authority.Parent != "" {
		parent := authority.Parent
		row.Parent = &parent
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return user.GrantedAuthority{}, errs.Wrap(res.Error, "insert granted authority")
	}
	if res.RowsAffected == 0 {
		return user.GrantedAuthority{}, errs.Wrapf(user.ErrAlreadyExists, "authority %q", authority.Authority)
	}
	return mapAuthority(row), nil
}

func (r *UserRepository) ListAllAuthorities(ctx context.Context) ([]user.GrantedAuthority, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.GrantedAuthority
	if err := db.Order("authority asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query authorities")
	}

	out := make([]user.GrantedAuthority, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapAuthority(row))
	}
	return out, nil
}

func toUserRow(u user.User) (model.User, error) {
	metadata := "{}"
	if len(u.Metadata) > 0 {
		raw, err := json.Marshal(u.Metadata)
		if err != nil {
			return model.User{}, errs.Wrap(err, "marshal user metadata")
		}
		metadata = string(raw)
	}

	status := u.Status
	if status == "" {
		status = user.StatusActive
	}

	return model.User{
		Username:       u.Username,
		HashedPassword: u.HashedPassword,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Status:         string(status),
		Metadata:       metadata,
	}, nil
}

func mapUser(row model.User) (user.User, error) {
	out := user.User{
		Username:       row.Username,
		HashedPassword: row.HashedPassword,
		FirstName:      row.FirstName,
		LastName:       row.LastName,
		Status:         user.AccountStatus(row.Status),
		CreatedAt:      parseTimestamp(row.CreatedAt),
		UpdatedAt:      parseTimestamp(row.UpdatedAt),
	}
	if row.Metadata != "" && row.Metadata != "{}" {
		if err := json.Unmarshal([]byte(row.Metadata), &out.Metadata); err != nil {
			return user.User{}, errs.Wrapf(err, "decode metadata of user %q", row.Username)
		}
	}
	return out, nil
}

func mapAuthority(row model.GrantedAuthority) user.GrantedAuthority {
	out := user.GrantedAuthority{
		Authority:   row.Authority,
		Description: row.Description,
		Group:       row.IsGroup,
	}
	if row.Parent != nil {
		out.Parent = *row.Parent
	}
	return out
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
