// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"table-access-service/internal/domain"
	"table-access-service/pkg/sas"
)

// PolicyRepository は保存済みアクセスポリシーのデータアクセスインターフェース。
type PolicyRepository interface {
	Create(ctx context.Context, policy *domain.AccessPolicy) error
	FindByTableAndIdentifier(ctx context.Context, tableName, identifier string) (*domain.AccessPolicy, error)
	FindAllByTable(ctx context.Context, tableName string) ([]*domain.AccessPolicy, error)
	ExistsByTableAndIdentifier(ctx context.Context, tableName, identifier string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.PolicyStatus) error
}

// TokenRepository は発行済みトークン監査レコードのデータアクセスインターフェース。
type TokenRepository interface {
	Record(ctx context.Context, token *domain.IssuedToken) error
	FindAllByTable(ctx context.Context, tableName string) ([]*domain.IssuedToken, error)
}

// Signer は正規化済み署名対象文字列に署名する外部署名器のインターフェース。
// 署名アルゴリズムと鍵の管理は実装側の責務。
type Signer interface {
	Sign(ctx context.Context, message []byte) (string, error)
}

// IssueRequest はSASトークン発行の入力。
type IssueRequest struct {
	TableName     string
	Permissions   string
	StartsOn      time.Time
	ExpiresOn     time.Time
	Identifier    string
	IPRange       sas.IPRange
	Protocol      sas.Protocol
	CorrelationID string

	StartPartitionKey string
	StartRowKey       string
	EndPartitionKey   string
	EndRowKey         string

	// 委任キー。nilでなければ署名フィールド6個が一括転記される。
	DelegationKey *sas.UserDelegationKey
}

// IssueResult はSASトークン発行の結果。
type IssueResult struct {
	Token         string
	TableName     string
	Permissions   string
	ExpiresOn     time.Time
	CorrelationID string
}

// TokenService はSASトークン発行とポリシー管理のビジネスロジックを提供する。
type TokenService struct {
	policies    PolicyRepository
	tokens      TokenRepository
	signer      Signer
	accountName string
	version     string
}

// NewTokenService は新しいTokenServiceを生成する。
func NewTokenService(policies PolicyRepository, tokens TokenRepository, signer Signer, accountName, version string) *TokenService {
	return &TokenService{
		policies:    policies,
		tokens:      tokens,
		signer:      signer,
		accountName: accountName,
		version:     version,
	}
}

// canonicalResource は署名対象のリソース識別子を組み立てる。
func (s *TokenService) canonicalResource(tableName string) string {
	return "/table/" + s.accountName + "/" + strings.ToLower(tableName)
}

// buildStringToSign は署名対象の正規化文字列を組み立てる。
// 行の順序と本数はサービス側の署名検証と対になる契約。
func (s *TokenService) buildStringToSign(req *IssueRequest) string {
	fields := []string{
		req.Permissions,
		formatSignedTime(req.StartsOn),
		formatSignedTime(req.ExpiresOn),
		s.canonicalResource(req.TableName),
		req.Identifier,
		req.IPRange.String(),
		string(req.Protocol),
		s.version,
		req.StartPartitionKey,
		req.StartRowKey,
		req.EndPartitionKey,
		req.EndRowKey,
	}
	return strings.Join(fields, "\n")
}

// formatSignedTime は署名対象のタイムスタンプをワイヤ形式へ変換する。
func formatSignedTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(sas.TimeFormat)
}

// IssueToken はSASトークンを発行する。
// Identifierが指定された場合は保存済みポリシーを解決し、
// リクエストで省略されたフィールドをポリシー値で補完する。
func (s *TokenService) IssueToken(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	if req.TableName == "" {
		return nil, domain.ErrInvalidTableName
	}

	// ポリシー参照の解決
	if req.Identifier != "" {
		policy, err := s.policies.FindByTableAndIdentifier(ctx, req.TableName, req.Identifier)
		if err != nil {
			return nil, fmt.Errorf("finding policy: %w", err)
		}
		if policy == nil {
			return nil, domain.ErrPolicyNotFound
		}
		if policy.Status == domain.PolicyStatusRevoked {
			return nil, domain.ErrPolicyRevoked
		}
		if req.Permissions == "" {
			req.Permissions = policy.Permissions
		}
		if req.StartsOn.IsZero() {
			req.StartsOn = policy.StartsOn
		}
		if req.ExpiresOn.IsZero() {
			req.ExpiresOn = policy.ExpiresOn
		}
	}

	// ポリシー参照なしの場合は期限必須
	if req.Identifier == "" && req.ExpiresOn.IsZero() {
		return nil, domain.ErrExpiryRequired
	}

	// 相関IDが未指定なら採番する
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}

	// 外部署名器で署名
	signature, err := s.signer.Sign(ctx, []byte(s.buildStringToSign(req)))
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	params, err := sas.NewParameters(s.version, signature, &sas.Options{
		Permissions:       req.Permissions,
		Protocol:          req.Protocol,
		StartsOn:          req.StartsOn,
		ExpiresOn:         req.ExpiresOn,
		Identifier:        req.Identifier,
		IPRange:           req.IPRange,
		TableName:         req.TableName,
		StartPartitionKey: req.StartPartitionKey,
		StartRowKey:       req.StartRowKey,
		EndPartitionKey:   req.EndPartitionKey,
		EndRowKey:         req.EndRowKey,
		DelegationKey:     req.DelegationKey,
		CorrelationID:     req.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("building sas parameters: %w", err)
	}

	// 監査レコードを記録
	record := &domain.IssuedToken{
		TableName:     req.TableName,
		Identifier:    req.Identifier,
		Permissions:   req.Permissions,
		ExpiresOn:     req.ExpiresOn,
		CorrelationID: req.CorrelationID,
	}
	if err := s.tokens.Record(ctx, record); err != nil {
		return nil, fmt.Errorf("recording issued token: %w", err)
	}

	return &IssueResult{
		Token:         params.Encode(),
		TableName:     req.TableName,
		Permissions:   req.Permissions,
		ExpiresOn:     req.ExpiresOn,
		CorrelationID: req.CorrelationID,
	}, nil
}

// CreatePolicy は保存済みアクセスポリシーを作成する。
func (s *TokenService) CreatePolicy(ctx context.Context, policy *domain.AccessPolicy) (*domain.AccessPolicy, error) {
	// 既存チェック
	exists, err := s.policies.ExistsByTableAndIdentifier(ctx, policy.TableName, policy.Identifier)
	if err != nil {
		return nil, fmt.Errorf("checking existing policy: %w", err)
	}
	if exists {
		return nil, domain.ErrPolicyAlreadyExists
	}

	policy.Status = domain.PolicyStatusActive
	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, fmt.Errorf("creating policy: %w", err)
	}
	return policy, nil
}

// GetPolicy は指定されたテーブル・識別子のポリシーを取得する。
func (s *TokenService) GetPolicy(ctx context.Context, tableName, identifier string) (*domain.AccessPolicy, error) {
	policy, err := s.policies.FindByTableAndIdentifier(ctx, tableName, identifier)
	if err != nil {
		return nil, fmt.Errorf("finding policy: %w", err)
	}
	if policy == nil {
		return nil, domain.ErrPolicyNotFound
	}
	return policy, nil
}

// ListPolicies は指定されたテーブルの全ポリシーを取得する。
func (s *TokenService) ListPolicies(ctx context.Context, tableName string) ([]*domain.AccessPolicy, error) {
	policies, err := s.policies.FindAllByTable(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("finding policies: %w", err)
	}
	return policies, nil
}

// RevokePolicy は指定されたポリシーを失効させる。
// 失効後にそのポリシーを参照するトークンは発行できなくなる。
func (s *TokenService) RevokePolicy(ctx context.Context, tableName, identifier string) error {
	policy, err := s.policies.FindByTableAndIdentifier(ctx, tableName, identifier)
	if err != nil {
		return fmt.Errorf("finding policy: %w", err)
	}
	if policy == nil {
		return domain.ErrPolicyNotFound
	}
	if policy.Status == domain.PolicyStatusRevoked {
		return domain.ErrPolicyAlreadyRevoked
	}

	if err := s.policies.UpdateStatus(ctx, policy.ID, domain.PolicyStatusRevoked); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

// ListIssuedTokens は指定されたテーブルの発行済みトークン監査レコードを取得する。
func (s *TokenService) ListIssuedTokens(ctx context.Context, tableName string) ([]*domain.IssuedToken, error) {
	tokens, err := s.tokens.FindAllByTable(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("finding issued tokens: %w", err)
	}
	return tokens, nil
}
