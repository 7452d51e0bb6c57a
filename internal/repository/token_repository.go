package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"table-access-service/internal/domain"
)

// IssuedTokenModel はgorm用のモデル定義。
type IssuedTokenModel struct {
	ID            string    `gorm:"type:char(36);primaryKey"`
	Table         string    `gorm:"column:table_name;type:varchar(63);not null;index:idx_token_table_name"`
	Identifier    string    `gorm:"type:varchar(64)"`
	Permissions   string    `gorm:"type:varchar(16)"`
	ExpiresOn     time.Time `gorm:"type:datetime(6)"`
	CorrelationID string    `gorm:"type:char(36)"`
	IssuedAt      time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (IssuedTokenModel) TableName() string {
	return "issued_tokens"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (t *IssuedTokenModel) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (t *IssuedTokenModel) toDomain() *domain.IssuedToken {
	return &domain.IssuedToken{
		ID:            t.ID,
		TableName:     t.Table,
		Identifier:    t.Identifier,
		Permissions:   t.Permissions,
		ExpiresOn:     t.ExpiresOn,
		CorrelationID: t.CorrelationID,
		IssuedAt:      t.IssuedAt,
	}
}

// TokenRepository は発行済みトークン監査レコードのデータアクセスを提供する。
type TokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository は新しいTokenRepositoryを生成する。
func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Record は発行済みトークンの監査レコードを保存する。
func (r *TokenRepository) Record(ctx context.Context, token *domain.IssuedToken) error {
	model := &IssuedTokenModel{
		ID:            token.ID,
		Table:         token.TableName,
		Identifier:    token.Identifier,
		Permissions:   token.Permissions,
		ExpiresOn:     token.ExpiresOn,
		CorrelationID: token.CorrelationID,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record issued token",
			"operation", "record",
			"table_name", token.TableName,
			"correlation_id", token.CorrelationID,
			"error", err,
		)
		return err
	}
	token.ID = model.ID
	token.IssuedAt = model.IssuedAt
	return nil
}

// FindAllByTable は指定されたテーブルの監査レコードを新しい順に取得する。
func (r *TokenRepository) FindAllByTable(ctx context.Context, tableName string) ([]*domain.IssuedToken, error) {
	var models []IssuedTokenModel
	err := r.db.WithContext(ctx).
		Where("table_name = ?", tableName).
		Order("issued_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find issued tokens by table",
			"operation", "find_all_by_table",
			"table_name", tableName,
			"error", err,
		)
		return nil, err
	}

	tokens := make([]*domain.IssuedToken, len(models))
	for i, m := range models {
		tokens[i] = m.toDomain()
	}
	return tokens, nil
}
