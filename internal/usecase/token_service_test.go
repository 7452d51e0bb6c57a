package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"table-access-service/internal/domain"
	"table-access-service/pkg/sas"
)

// mockPolicyRepository はテスト用のモックリポジトリ。
type mockPolicyRepository struct {
	existsResult    bool
	existsErr       error
	createErr       error
	findResult      *domain.AccessPolicy
	findErr         error
	findAllResult   []*domain.AccessPolicy
	findAllErr      error
	updateStatusErr error
	createdPolicies []*domain.AccessPolicy
	updatedStatuses map[string]domain.PolicyStatus
}

func (m *mockPolicyRepository) Create(ctx context.Context, policy *domain.AccessPolicy) error {
	if m.createErr != nil {
		return m.createErr
	}
	policy.CreatedAt = time.Now()
	m.createdPolicies = append(m.createdPolicies, policy)
	return nil
}

func (m *mockPolicyRepository) FindByTableAndIdentifier(ctx context.Context, tableName, identifier string) (*domain.AccessPolicy, error) {
	return m.findResult, m.findErr
}

func (m *mockPolicyRepository) FindAllByTable(ctx context.Context, tableName string) ([]*domain.AccessPolicy, error) {
	return m.findAllResult, m.findAllErr
}

func (m *mockPolicyRepository) ExistsByTableAndIdentifier(ctx context.Context, tableName, identifier string) (bool, error) {
	return m.existsResult, m.existsErr
}

func (m *mockPolicyRepository) UpdateStatus(ctx context.Context, id string, status domain.PolicyStatus) error {
	if m.updateStatusErr != nil {
		return m.updateStatusErr
	}
	if m.updatedStatuses == nil {
		m.updatedStatuses = make(map[string]domain.PolicyStatus)
	}
	m.updatedStatuses[id] = status
	return nil
}

// mockTokenRepository はテスト用のモックリポジトリ。
type mockTokenRepository struct {
	recordErr     error
	findAllResult []*domain.IssuedToken
	findAllErr    error
	recorded      []*domain.IssuedToken
}

func (m *mockTokenRepository) Record(ctx context.Context, token *domain.IssuedToken) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	token.IssuedAt = time.Now()
	m.recorded = append(m.recorded, token)
	return nil
}

func (m *mockTokenRepository) FindAllByTable(ctx context.Context, tableName string) ([]*domain.IssuedToken, error) {
	return m.findAllResult, m.findAllErr
}

// mockSigner はテスト用のモック署名器。
type mockSigner struct {
	signErr error
	signed  []string
}

func (m *mockSigner) Sign(ctx context.Context, message []byte) (string, error) {
	if m.signErr != nil {
		return "", m.signErr
	}
	m.signed = append(m.signed, string(message))
	return base64.StdEncoding.EncodeToString([]byte("mac")), nil
}

func newTestService(policies *mockPolicyRepository, tokens *mockTokenRepository, signer *mockSigner) *TokenService {
	return NewTokenService(policies, tokens, signer, "devaccount", "2023-01-01")
}

func TestTokenService_IssueToken_Success(t *testing.T) {
	policies := &mockPolicyRepository{}
	tokens := &mockTokenRepository{}
	signer := &mockSigner{}
	svc := newTestService(policies, tokens, signer)

	expiry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName:   "orders",
		Permissions: "r",
		ExpiresOn:   expiry,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(result.Token, "sv=2023-01-01&") {
		t.Errorf("token must start with version: %q", result.Token)
	}
	for _, part := range []string{"se=2024-01-01T00%3A00%3A00Z", "sp=r", "tn=orders", "scid="} {
		if !strings.Contains(result.Token, part) {
			t.Errorf("want %q in token %q", part, result.Token)
		}
	}
	if result.CorrelationID == "" {
		t.Error("want generated correlation id")
	}
	if len(tokens.recorded) != 1 {
		t.Fatalf("want 1 recorded token, got %d", len(tokens.recorded))
	}
	if tokens.recorded[0].TableName != "orders" {
		t.Errorf("want recorded table orders, got %s", tokens.recorded[0].TableName)
	}
}

func TestTokenService_IssueToken_StringToSign(t *testing.T) {
	policies := &mockPolicyRepository{}
	tokens := &mockTokenRepository{}
	signer := &mockSigner{}
	svc := newTestService(policies, tokens, signer)

	expiry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName:   "Orders",
		Permissions: "raud",
		ExpiresOn:   expiry,
		IPRange:     sas.IPRange{Start: "10.0.0.1", End: "10.0.0.5"},
		Protocol:    sas.ProtocolHTTPS,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(signer.signed) != 1 {
		t.Fatalf("want 1 signing call, got %d", len(signer.signed))
	}
	lines := strings.Split(signer.signed[0], "\n")
	if len(lines) != 12 {
		t.Fatalf("want 12 lines in string-to-sign, got %d: %q", len(lines), signer.signed[0])
	}
	if lines[0] != "raud" {
		t.Errorf("want permissions first, got %q", lines[0])
	}
	if lines[2] != "2024-01-01T00:00:00Z" {
		t.Errorf("want expiry on third line, got %q", lines[2])
	}
	// テーブル名は小文字へ正規化される
	if lines[3] != "/table/devaccount/orders" {
		t.Errorf("want canonical resource, got %q", lines[3])
	}
	if lines[5] != "10.0.0.1-10.0.0.5" {
		t.Errorf("want ip range, got %q", lines[5])
	}
	if lines[7] != "2023-01-01" {
		t.Errorf("want version, got %q", lines[7])
	}
}

func TestTokenService_IssueToken_DelegationKey(t *testing.T) {
	svc := newTestService(&mockPolicyRepository{}, &mockTokenRepository{}, &mockSigner{})

	result, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName: "orders",
		ExpiresOn: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DelegationKey: &sas.UserDelegationKey{
			SignedObjectID: "oid",
			SignedTenantID: "tid",
			SignedStart:    time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			SignedExpiry:   time.Date(2023, 6, 8, 0, 0, 0, 0, time.UTC),
			SignedService:  "t",
			SignedVersion:  "2020-12-06",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, part := range []string{"skoid=oid", "sktid=tid", "sks=t", "skv=2020-12-06"} {
		if !strings.Contains(result.Token, part) {
			t.Errorf("want %q in token %q", part, result.Token)
		}
	}
}

func TestTokenService_IssueToken_ExpiryRequired(t *testing.T) {
	svc := newTestService(&mockPolicyRepository{}, &mockTokenRepository{}, &mockSigner{})

	_, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName:   "orders",
		Permissions: "r",
	})
	if !errors.Is(err, domain.ErrExpiryRequired) {
		t.Errorf("want ErrExpiryRequired, got %v", err)
	}
}

func TestTokenService_IssueToken_PolicyFillsFields(t *testing.T) {
	expiry := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	policies := &mockPolicyRepository{
		findResult: &domain.AccessPolicy{
			ID:          "policy-id",
			TableName:   "orders",
			Identifier:  "readers",
			Permissions: "r",
			ExpiresOn:   expiry,
			Status:      domain.PolicyStatusActive,
		},
	}
	tokens := &mockTokenRepository{}
	svc := newTestService(policies, tokens, &mockSigner{})

	result, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName:  "orders",
		Identifier: "readers",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Permissions != "r" {
		t.Errorf("want permissions from policy, got %q", result.Permissions)
	}
	if !result.ExpiresOn.Equal(expiry) {
		t.Errorf("want expiry from policy, got %v", result.ExpiresOn)
	}
	if !strings.Contains(result.Token, "si=readers") {
		t.Errorf("want si=readers in token %q", result.Token)
	}
}

func TestTokenService_IssueToken_PolicyNotFound(t *testing.T) {
	svc := newTestService(&mockPolicyRepository{}, &mockTokenRepository{}, &mockSigner{})

	_, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName:  "orders",
		Identifier: "missing",
	})
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("want ErrPolicyNotFound, got %v", err)
	}
}

func TestTokenService_IssueToken_PolicyRevoked(t *testing.T) {
	policies := &mockPolicyRepository{
		findResult: &domain.AccessPolicy{
			ID:         "policy-id",
			TableName:  "orders",
			Identifier: "readers",
			Status:     domain.PolicyStatusRevoked,
		},
	}
	svc := newTestService(policies, &mockTokenRepository{}, &mockSigner{})

	_, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName:  "orders",
		Identifier: "readers",
	})
	if !errors.Is(err, domain.ErrPolicyRevoked) {
		t.Errorf("want ErrPolicyRevoked, got %v", err)
	}
}

func TestTokenService_IssueToken_SignerError(t *testing.T) {
	signErr := errors.New("kms unavailable")
	svc := newTestService(&mockPolicyRepository{}, &mockTokenRepository{}, &mockSigner{signErr: signErr})

	_, err := svc.IssueToken(context.Background(), &IssueRequest{
		TableName: "orders",
		ExpiresOn: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, signErr) {
		t.Errorf("want signer error, got %v", err)
	}
}

func TestTokenService_CreatePolicy_Success(t *testing.T) {
	policies := &mockPolicyRepository{existsResult: false}
	svc := newTestService(policies, &mockTokenRepository{}, &mockSigner{})

	policy, err := svc.CreatePolicy(context.Background(), &domain.AccessPolicy{
		TableName:   "orders",
		Identifier:  "readers",
		Permissions: "r",
		ExpiresOn:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if policy.Status != domain.PolicyStatusActive {
		t.Errorf("want status active, got %s", policy.Status)
	}
	if len(policies.createdPolicies) != 1 {
		t.Errorf("want 1 created policy, got %d", len(policies.createdPolicies))
	}
}

func TestTokenService_CreatePolicy_AlreadyExists(t *testing.T) {
	policies := &mockPolicyRepository{existsResult: true}
	svc := newTestService(policies, &mockTokenRepository{}, &mockSigner{})

	_, err := svc.CreatePolicy(context.Background(), &domain.AccessPolicy{
		TableName:  "orders",
		Identifier: "readers",
	})
	if !errors.Is(err, domain.ErrPolicyAlreadyExists) {
		t.Errorf("want ErrPolicyAlreadyExists, got %v", err)
	}
}

func TestTokenService_RevokePolicy_Success(t *testing.T) {
	policies := &mockPolicyRepository{
		findResult: &domain.AccessPolicy{
			ID:         "policy-id",
			TableName:  "orders",
			Identifier: "readers",
			Status:     domain.PolicyStatusActive,
		},
	}
	svc := newTestService(policies, &mockTokenRepository{}, &mockSigner{})

	if err := svc.RevokePolicy(context.Background(), "orders", "readers"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policies.updatedStatuses["policy-id"] != domain.PolicyStatusRevoked {
		t.Errorf("want status revoked, got %s", policies.updatedStatuses["policy-id"])
	}
}

func TestTokenService_RevokePolicy_AlreadyRevoked(t *testing.T) {
	policies := &mockPolicyRepository{
		findResult: &domain.AccessPolicy{
			ID:     "policy-id",
			Status: domain.PolicyStatusRevoked,
		},
	}
	svc := newTestService(policies, &mockTokenRepository{}, &mockSigner{})

	err := svc.RevokePolicy(context.Background(), "orders", "readers")
	if !errors.Is(err, domain.ErrPolicyAlreadyRevoked) {
		t.Errorf("want ErrPolicyAlreadyRevoked, got %v", err)
	}
}

func TestTokenService_RevokePolicy_NotFound(t *testing.T) {
	svc := newTestService(&mockPolicyRepository{}, &mockTokenRepository{}, &mockSigner{})

	err := svc.RevokePolicy(context.Background(), "orders", "missing")
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("want ErrPolicyNotFound, got %v", err)
	}
}
