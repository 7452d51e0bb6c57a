// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"table-access-service/internal/domain"
	"table-access-service/internal/middleware"
	"table-access-service/internal/usecase"
	"table-access-service/pkg/httputil"
	"table-access-service/pkg/sas"
)

var (
	tableNameRegex  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// TokenHandler はHTTPハンドラを提供する。
type TokenHandler struct {
	service *usecase.TokenService
}

// NewTokenHandler は新しいTokenHandlerを生成する。
func NewTokenHandler(service *usecase.TokenService) *TokenHandler {
	return &TokenHandler{service: service}
}

func validateTableName(tableName string) error {
	if !tableNameRegex.MatchString(tableName) {
		return domain.ErrInvalidTableName
	}
	return nil
}

func validateIdentifier(identifier string) error {
	if identifier == "" || len(identifier) > 64 {
		return domain.ErrInvalidIdentifier
	}
	if !identifierRegex.MatchString(identifier) {
		return domain.ErrInvalidIdentifier
	}
	return nil
}

// parseTimestamp はRFC3339形式のタイムスタンプを解析する。空文字はゼロ値。
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

// IssueTokenRequest はSASトークン発行のリクエスト形式。
type IssueTokenRequest struct {
	Permissions   string `json:"permissions,omitempty"`
	StartsOn      string `json:"starts_on,omitempty"`
	ExpiresOn     string `json:"expires_on,omitempty"`
	Identifier    string `json:"identifier,omitempty"`
	IPRangeStart  string `json:"ip_range_start,omitempty"`
	IPRangeEnd    string `json:"ip_range_end,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	StartPartitionKey string `json:"start_partition_key,omitempty"`
	StartRowKey       string `json:"start_row_key,omitempty"`
	EndPartitionKey   string `json:"end_partition_key,omitempty"`
	EndRowKey         string `json:"end_row_key,omitempty"`

	DelegationKey *DelegationKeyRequest `json:"delegation_key,omitempty"`
}

// DelegationKeyRequest は委任キー由来の署名フィールド群。
// 指定された場合は6フィールドが一括でトークンへ転記される。
type DelegationKeyRequest struct {
	SignedObjectID string `json:"signed_object_id,omitempty"`
	SignedTenantID string `json:"signed_tenant_id,omitempty"`
	SignedStart    string `json:"signed_start,omitempty"`
	SignedExpiry   string `json:"signed_expiry,omitempty"`
	SignedService  string `json:"signed_service,omitempty"`
	SignedVersion  string `json:"signed_version,omitempty"`
}

// IssueTokenResponse はSASトークン発行のレスポンス形式。
type IssueTokenResponse struct {
	Token         string `json:"token"`
	TableName     string `json:"table_name"`
	Permissions   string `json:"permissions"`
	ExpiresOn     string `json:"expires_on,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// PolicyRequest はアクセスポリシー作成のリクエスト形式。
type PolicyRequest struct {
	Identifier  string `json:"identifier"`
	Permissions string `json:"permissions"`
	StartsOn    string `json:"starts_on,omitempty"`
	ExpiresOn   string `json:"expires_on,omitempty"`
}

// PolicyResponse はアクセスポリシーのレスポンス形式。
type PolicyResponse struct {
	TableName   string `json:"table_name"`
	Identifier  string `json:"identifier"`
	Permissions string `json:"permissions"`
	StartsOn    string `json:"starts_on,omitempty"`
	ExpiresOn   string `json:"expires_on,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// PolicyListResponse はポリシー一覧のレスポンス形式。
type PolicyListResponse struct {
	Policies []PolicyResponse `json:"policies"`
}

// TokenRecordResponse は発行済みトークン監査レコードのレスポンス形式。
type TokenRecordResponse struct {
	TableName     string `json:"table_name"`
	Identifier    string `json:"identifier,omitempty"`
	Permissions   string `json:"permissions,omitempty"`
	ExpiresOn     string `json:"expires_on,omitempty"`
	CorrelationID string `json:"correlation_id"`
	IssuedAt      string `json:"issued_at"`
}

// TokenRecordListResponse は監査レコード一覧のレスポンス形式。
type TokenRecordListResponse struct {
	Tokens []TokenRecordResponse `json:"tokens"`
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toPolicyResponse(p *domain.AccessPolicy) PolicyResponse {
	return PolicyResponse{
		TableName:   p.TableName,
		Identifier:  p.Identifier,
		Permissions: p.Permissions,
		StartsOn:    formatOptionalTime(p.StartsOn),
		ExpiresOn:   formatOptionalTime(p.ExpiresOn),
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// IssueToken はSASトークンを発行する。
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table_name")
	if err := validateTableName(tableName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TABLE_NAME", "invalid table name format")
		return
	}

	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	startsOn, err := parseTimestamp(req.StartsOn)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TIMESTAMP", "starts_on must be RFC3339")
		return
	}
	expiresOn, err := parseTimestamp(req.ExpiresOn)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TIMESTAMP", "expires_on must be RFC3339")
		return
	}

	var delegationKey *sas.UserDelegationKey
	if dk := req.DelegationKey; dk != nil {
		signedStart, err := parseTimestamp(dk.SignedStart)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_TIMESTAMP", "delegation_key.signed_start must be RFC3339")
			return
		}
		signedExpiry, err := parseTimestamp(dk.SignedExpiry)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_TIMESTAMP", "delegation_key.signed_expiry must be RFC3339")
			return
		}
		delegationKey = &sas.UserDelegationKey{
			SignedObjectID: dk.SignedObjectID,
			SignedTenantID: dk.SignedTenantID,
			SignedStart:    signedStart,
			SignedExpiry:   signedExpiry,
			SignedService:  dk.SignedService,
			SignedVersion:  dk.SignedVersion,
		}
	}

	result, err := h.service.IssueToken(r.Context(), &usecase.IssueRequest{
		TableName:     tableName,
		Permissions:   req.Permissions,
		StartsOn:      startsOn,
		ExpiresOn:     expiresOn,
		Identifier:    req.Identifier,
		IPRange:       sas.IPRange{Start: req.IPRangeStart, End: req.IPRangeEnd},
		Protocol:      sas.Protocol(req.Protocol),
		CorrelationID: req.CorrelationID,

		StartPartitionKey: req.StartPartitionKey,
		StartRowKey:       req.StartRowKey,
		EndPartitionKey:   req.EndPartitionKey,
		EndRowKey:         req.EndRowKey,

		DelegationKey: delegationKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExpiryRequired):
			middleware.WriteAuditLog(r.Context(), "ISSUE_TOKEN", tableName, req.Identifier, "FAILED")
			httputil.Error(w, http.StatusBadRequest, "EXPIRY_REQUIRED", "expires_on is required when no identifier is given")
		case errors.Is(err, domain.ErrPolicyNotFound):
			middleware.WriteAuditLog(r.Context(), "ISSUE_TOKEN", tableName, req.Identifier, "FAILED")
			httputil.Error(w, http.StatusNotFound, "POLICY_NOT_FOUND", "access policy not found for this table and identifier")
		case errors.Is(err, domain.ErrPolicyRevoked):
			middleware.WriteAuditLog(r.Context(), "ISSUE_TOKEN", tableName, req.Identifier, "FAILED")
			httputil.Error(w, http.StatusGone, "POLICY_REVOKED", "access policy has been revoked")
		default:
			middleware.WriteAuditLog(r.Context(), "ISSUE_TOKEN", tableName, req.Identifier, "FAILED")
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "ISSUE_TOKEN", tableName, req.Identifier, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, IssueTokenResponse{
		Token:         result.Token,
		TableName:     result.TableName,
		Permissions:   result.Permissions,
		ExpiresOn:     formatOptionalTime(result.ExpiresOn),
		CorrelationID: result.CorrelationID,
	})
}

// CreatePolicy は保存済みアクセスポリシーを作成する。
func (h *TokenHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table_name")
	if err := validateTableName(tableName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TABLE_NAME", "invalid table name format")
		return
	}

	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if err := validateIdentifier(req.Identifier); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_IDENTIFIER", "invalid policy identifier format")
		return
	}

	startsOn, err := parseTimestamp(req.StartsOn)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TIMESTAMP", "starts_on must be RFC3339")
		return
	}
	expiresOn, err := parseTimestamp(req.ExpiresOn)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TIMESTAMP", "expires_on must be RFC3339")
		return
	}

	policy, err := h.service.CreatePolicy(r.Context(), &domain.AccessPolicy{
		TableName:   tableName,
		Identifier:  req.Identifier,
		Permissions: req.Permissions,
		StartsOn:    startsOn,
		ExpiresOn:   expiresOn,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPolicyAlreadyExists) {
			middleware.WriteAuditLog(r.Context(), "CREATE_POLICY", tableName, req.Identifier, "FAILED")
			httputil.Error(w, http.StatusConflict, "POLICY_ALREADY_EXISTS", "policy already exists for this table and identifier")
			return
		}
		middleware.WriteAuditLog(r.Context(), "CREATE_POLICY", tableName, req.Identifier, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_POLICY", tableName, req.Identifier, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, toPolicyResponse(policy))
}

// GetPolicy は指定された識別子のポリシーを取得する。
func (h *TokenHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table_name")
	if err := validateTableName(tableName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TABLE_NAME", "invalid table name format")
		return
	}
	identifier := chi.URLParam(r, "identifier")
	if err := validateIdentifier(identifier); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_IDENTIFIER", "invalid policy identifier format")
		return
	}

	policy, err := h.service.GetPolicy(r.Context(), tableName, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			httputil.Error(w, http.StatusNotFound, "POLICY_NOT_FOUND", "access policy not found for this table and identifier")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, toPolicyResponse(policy))
}

// ListPolicies はポリシー一覧を取得する。
func (h *TokenHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table_name")
	if err := validateTableName(tableName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TABLE_NAME", "invalid table name format")
		return
	}

	policies, err := h.service.ListPolicies(r.Context(), tableName)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	response := PolicyListResponse{
		Policies: make([]PolicyResponse, len(policies)),
	}
	for i, p := range policies {
		response.Policies[i] = toPolicyResponse(p)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// RevokePolicy はポリシーを失効させる。
func (h *TokenHandler) RevokePolicy(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table_name")
	if err := validateTableName(tableName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TABLE_NAME", "invalid table name format")
		return
	}
	identifier := chi.URLParam(r, "identifier")
	if err := validateIdentifier(identifier); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_IDENTIFIER", "invalid policy identifier format")
		return
	}

	err := h.service.RevokePolicy(r.Context(), tableName, identifier)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPolicyNotFound):
			middleware.WriteAuditLog(r.Context(), "REVOKE_POLICY", tableName, identifier, "FAILED")
			httputil.Error(w, http.StatusNotFound, "POLICY_NOT_FOUND", "access policy not found for this table and identifier")
		case errors.Is(err, domain.ErrPolicyAlreadyRevoked):
			middleware.WriteAuditLog(r.Context(), "REVOKE_POLICY", tableName, identifier, "FAILED")
			httputil.Error(w, http.StatusConflict, "POLICY_ALREADY_REVOKED", "policy is already revoked")
		default:
			middleware.WriteAuditLog(r.Context(), "REVOKE_POLICY", tableName, identifier, "FAILED")
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "REVOKE_POLICY", tableName, identifier, "SUCCESS")
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "revoked"})
}

// ListTokens は発行済みトークンの監査レコード一覧を取得する。
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table_name")
	if err := validateTableName(tableName); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TABLE_NAME", "invalid table name format")
		return
	}

	tokens, err := h.service.ListIssuedTokens(r.Context(), tableName)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	response := TokenRecordListResponse{
		Tokens: make([]TokenRecordResponse, len(tokens)),
	}
	for i, tk := range tokens {
		response.Tokens[i] = TokenRecordResponse{
			TableName:     tk.TableName,
			Identifier:    tk.Identifier,
			Permissions:   tk.Permissions,
			ExpiresOn:     formatOptionalTime(tk.ExpiresOn),
			CorrelationID: tk.CorrelationID,
			IssuedAt:      tk.IssuedAt.UTC().Format(time.RFC3339),
		}
	}
	httputil.JSON(w, http.StatusOK, response)
}
