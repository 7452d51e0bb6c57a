package domain

import "errors"

var (
	// ErrPolicyNotFound は指定されたテーブル・識別子のポリシーが存在しない場合のエラー。
	ErrPolicyNotFound = errors.New("access policy not found")

	// ErrPolicyAlreadyExists は指定された識別子のポリシーが既に存在する場合のエラー。
	ErrPolicyAlreadyExists = errors.New("access policy already exists")

	// ErrPolicyRevoked は指定されたポリシーが失効済みの場合のエラー。
	ErrPolicyRevoked = errors.New("access policy is revoked")

	// ErrPolicyAlreadyRevoked は指定されたポリシーが既に失効済みの場合のエラー。
	ErrPolicyAlreadyRevoked = errors.New("access policy is already revoked")

	// ErrInvalidTableName はテーブル名の形式が不正な場合のエラー。
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrInvalidIdentifier はポリシー識別子の形式が不正な場合のエラー。
	ErrInvalidIdentifier = errors.New("invalid policy identifier")

	// ErrExpiryRequired はポリシー参照なしで有効期限を省略した場合のエラー。
	ErrExpiryRequired = errors.New("expiry is required when no stored policy is referenced")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
