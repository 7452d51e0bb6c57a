// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"table-access-service/internal/domain"
)

// AccessPolicyModel はgorm用のモデル定義。
type AccessPolicyModel struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	Table       string    `gorm:"column:table_name;type:varchar(63);not null;uniqueIndex:uk_table_identifier;index:idx_table_name"`
	Identifier  string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_table_identifier"`
	Permissions string    `gorm:"type:varchar(16);not null"`
	StartsOn    time.Time `gorm:"type:datetime(6)"`
	ExpiresOn   time.Time `gorm:"type:datetime(6)"`
	Status      string    `gorm:"type:enum('active','revoked');not null;default:'active'"`
	CreatedAt   time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (AccessPolicyModel) TableName() string {
	return "access_policies"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (p *AccessPolicyModel) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (p *AccessPolicyModel) toDomain() *domain.AccessPolicy {
	return &domain.AccessPolicy{
		ID:          p.ID,
		TableName:   p.Table,
		Identifier:  p.Identifier,
		Permissions: p.Permissions,
		StartsOn:    p.StartsOn,
		ExpiresOn:   p.ExpiresOn,
		Status:      domain.PolicyStatus(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// PolicyRepository は保存済みアクセスポリシーのデータアクセスを提供する。
type PolicyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository は新しいPolicyRepositoryを生成する。
func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Create は新しいアクセスポリシーを保存する。
func (r *PolicyRepository) Create(ctx context.Context, policy *domain.AccessPolicy) error {
	model := &AccessPolicyModel{
		ID:          policy.ID,
		Table:       policy.TableName,
		Identifier:  policy.Identifier,
		Permissions: policy.Permissions,
		StartsOn:    policy.StartsOn,
		ExpiresOn:   policy.ExpiresOn,
		Status:      string(policy.Status),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create policy",
			"operation", "create",
			"table_name", policy.TableName,
			"identifier", policy.Identifier,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	policy.ID = model.ID
	policy.CreatedAt = model.CreatedAt
	policy.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByTableAndIdentifier は指定されたテーブル・識別子のポリシーを取得する。
func (r *PolicyRepository) FindByTableAndIdentifier(ctx context.Context, tableName, identifier string) (*domain.AccessPolicy, error) {
	var model AccessPolicyModel
	err := r.db.WithContext(ctx).
		Where("table_name = ? AND identifier = ?", tableName, identifier).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find policy",
			"operation", "find_by_table_and_identifier",
			"table_name", tableName,
			"identifier", identifier,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByTable は指定されたテーブルの全ポリシーを取得する。
func (r *PolicyRepository) FindAllByTable(ctx context.Context, tableName string) ([]*domain.AccessPolicy, error) {
	var models []AccessPolicyModel
	err := r.db.WithContext(ctx).
		Where("table_name = ?", tableName).
		Order("identifier ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all policies by table",
			"operation", "find_all_by_table",
			"table_name", tableName,
			"error", err,
		)
		return nil, err
	}

	policies := make([]*domain.AccessPolicy, len(models))
	for i, m := range models {
		policies[i] = m.toDomain()
	}
	return policies, nil
}

// ExistsByTableAndIdentifier は指定された識別子のポリシーが存在するか確認する。
func (r *PolicyRepository) ExistsByTableAndIdentifier(ctx context.Context, tableName, identifier string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&AccessPolicyModel{}).
		Where("table_name = ? AND identifier = ?", tableName, identifier).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count policies",
			"operation", "exists_by_table_and_identifier",
			"table_name", tableName,
			"identifier", identifier,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// UpdateStatus は指定されたIDのポリシーのステータスを更新する。
func (r *PolicyRepository) UpdateStatus(ctx context.Context, id string, status domain.PolicyStatus) error {
	err := r.db.WithContext(ctx).
		Model(&AccessPolicyModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update status",
			"operation", "update_status",
			"policy_id", id,
			"error", err,
		)
		return err
	}
	return nil
}
