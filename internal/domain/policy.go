// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// PolicyStatus は保存済みアクセスポリシーのステータスを表す。
type PolicyStatus string

const (
	// PolicyStatusActive は有効なポリシーを表す。
	PolicyStatusActive PolicyStatus = "active"
	// PolicyStatusRevoked は失効済みのポリシーを表す。
	PolicyStatusRevoked PolicyStatus = "revoked"
)

// AccessPolicy はSASトークンのsiフィールドから参照される
// 保存済みアクセスポリシーを表す。
type AccessPolicy struct {
	ID          string
	TableName   string
	Identifier  string
	Permissions string
	StartsOn    time.Time
	ExpiresOn   time.Time
	Status      PolicyStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IssuedToken は発行済みSASトークンの監査レコードを表す。
// トークン本体は保存せず、発行時のメタデータのみを持つ。
type IssuedToken struct {
	ID            string
	TableName     string
	Identifier    string
	Permissions   string
	ExpiresOn     time.Time
	CorrelationID string
	IssuedAt      time.Time
}
