// Package sas はテーブルストレージ用Shared Access Signature（SAS）の
// クエリパラメータモデルを提供する。
//
// Encode が出力するパラメータの順序はサービス側の検証器が前提とする
// ワイヤ契約であり、実装都合で変更してはならない。
package sas

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// TimeFormat はSASタイムスタンプのワイヤ形式（秒精度のISO-8601）。
const TimeFormat = "2006-01-02T15:04:05Z"

// Protocol はSASトークンで許可するプロトコルを表す。
type Protocol string

const (
	// ProtocolHTTPS はHTTPSのみを許可する。
	ProtocolHTTPS Protocol = "https"
	// ProtocolHTTPSAndHTTP はHTTPSとHTTPの両方を許可する。
	ProtocolHTTPSAndHTTP Protocol = "https,http"
)

var (
	// ErrVersionRequired はバージョン未指定で構築した場合のエラー。
	ErrVersionRequired = errors.New("sas: version is required")

	// ErrSignatureRequired は署名未指定で構築した場合のエラー。
	ErrSignatureRequired = errors.New("sas: signature is required")
)

// UserDelegationKey はアカウントキーの代わりにSAS署名へ使う
// 短命な委任キーを表す。署名フィールド群はこのキーから一括で転記される。
type UserDelegationKey struct {
	SignedObjectID string
	SignedTenantID string
	SignedStart    time.Time
	SignedExpiry   time.Time
	SignedService  string
	SignedVersion  string
}

// Options はSASパラメータの任意フィールドをまとめたオプション。
// ゼロ値のフィールドはトークンに含まれない。
type Options struct {
	Permissions   string
	Services      string
	ResourceTypes string
	Protocol      Protocol
	StartsOn      time.Time
	ExpiresOn     time.Time
	Identifier    string
	IPRange       IPRange
	TableName     string

	// 範囲制限。パーティションキーとローキーは対で指定する想定だが、
	// 片方のみでも検証せずそのまま出力する。
	StartPartitionKey string
	StartRowKey       string
	EndPartitionKey   string
	EndRowKey         string

	// 委任キー由来フィールド。nilでなければ6フィールドを一括転記する。
	DelegationKey *UserDelegationKey

	PreauthorizedAgentObjectID string
	CorrelationID              string
}

// Parameters はSASトークンを構成するフィールド集合の不変値オブジェクト。
// 構築後に変更されないため、複数ゴルーチンから同時にEncodeしてよい。
type Parameters struct {
	version       string
	services      string
	resourceTypes string
	protocol      Protocol
	startsOn      time.Time
	expiresOn     time.Time
	ipRange       IPRange
	identifier    string

	signedObjectID   string
	signedTenantID   string
	signedKeyStart   time.Time
	signedKeyExpiry  time.Time
	signedKeyService string
	signedKeyVersion string

	// resource（sr）とレスポンスヘッダ上書き（rscc〜rsct）は
	// 列挙順の予約スロット。テーブル用の構築経路では設定されない。
	resource           string
	permissions        string
	signature          string
	cacheControl       string
	contentDisposition string
	contentEncoding    string
	contentLanguage    string
	contentType        string

	preauthorizedAgentObjectID string
	correlationID              string

	tableName         string
	startPartitionKey string
	startRowKey       string
	endPartitionKey   string
	endRowKey         string
}

// NewParameters は必須のバージョン・署名とオプションからParametersを構築する。
// 署名値の計算自体は外部の署名器の責務であり、ここでは受け取るだけ。
func NewParameters(version, signature string, opts *Options) (*Parameters, error) {
	if version == "" {
		return nil, ErrVersionRequired
	}
	if signature == "" {
		return nil, ErrSignatureRequired
	}

	p := &Parameters{
		version:   version,
		signature: signature,
	}
	if opts == nil {
		return p, nil
	}

	p.permissions = opts.Permissions
	p.services = opts.Services
	p.resourceTypes = opts.ResourceTypes
	p.protocol = opts.Protocol
	p.startsOn = opts.StartsOn
	p.expiresOn = opts.ExpiresOn
	p.identifier = opts.Identifier
	p.ipRange = opts.IPRange
	p.tableName = opts.TableName
	p.startPartitionKey = opts.StartPartitionKey
	p.startRowKey = opts.StartRowKey
	p.endPartitionKey = opts.EndPartitionKey
	p.endRowKey = opts.EndRowKey
	p.preauthorizedAgentObjectID = opts.PreauthorizedAgentObjectID
	p.correlationID = opts.CorrelationID

	// 委任キーの6フィールドは全て揃うか全て無いかのどちらか
	if dk := opts.DelegationKey; dk != nil {
		p.signedObjectID = dk.SignedObjectID
		p.signedTenantID = dk.SignedTenantID
		p.signedKeyStart = dk.SignedStart
		p.signedKeyExpiry = dk.SignedExpiry
		p.signedKeyService = dk.SignedService
		p.signedKeyVersion = dk.SignedVersion
	}

	return p, nil
}

// Version はサービスAPIバージョンを返す。
func (p *Parameters) Version() string { return p.version }

// Signature は署名値を返す。
func (p *Parameters) Signature() string { return p.signature }

// Permissions は許可される操作の集合を返す。
func (p *Parameters) Permissions() string { return p.permissions }

// Services は対象サービスの集合を返す。
func (p *Parameters) Services() string { return p.services }

// ResourceTypes は対象リソース種別の集合を返す。
func (p *Parameters) ResourceTypes() string { return p.resourceTypes }

// Protocol は許可プロトコルを返す。
func (p *Parameters) Protocol() Protocol { return p.protocol }

// StartsOn は有効開始時刻を返す。
func (p *Parameters) StartsOn() time.Time { return p.startsOn }

// ExpiresOn は有効期限を返す。
func (p *Parameters) ExpiresOn() time.Time { return p.expiresOn }

// Identifier は参照先の保存済みアクセスポリシーIDを返す。
func (p *Parameters) Identifier() string { return p.identifier }

// IPRange は許可IPアドレス範囲を返す。
func (p *Parameters) IPRange() IPRange { return p.ipRange }

// TableName は対象テーブル名を返す。
func (p *Parameters) TableName() string { return p.tableName }

// StartPartitionKey は範囲制限の開始パーティションキーを返す。
func (p *Parameters) StartPartitionKey() string { return p.startPartitionKey }

// StartRowKey は範囲制限の開始ローキーを返す。
func (p *Parameters) StartRowKey() string { return p.startRowKey }

// EndPartitionKey は範囲制限の終了パーティションキーを返す。
func (p *Parameters) EndPartitionKey() string { return p.endPartitionKey }

// EndRowKey は範囲制限の終了ローキーを返す。
func (p *Parameters) EndRowKey() string { return p.endRowKey }

// SignedObjectID は委任キーのオブジェクトIDを返す。
func (p *Parameters) SignedObjectID() string { return p.signedObjectID }

// SignedTenantID は委任キーのテナントIDを返す。
func (p *Parameters) SignedTenantID() string { return p.signedTenantID }

// SignedKeyStart は委任キーの有効開始時刻を返す。
func (p *Parameters) SignedKeyStart() time.Time { return p.signedKeyStart }

// SignedKeyExpiry は委任キーの有効期限を返す。
func (p *Parameters) SignedKeyExpiry() time.Time { return p.signedKeyExpiry }

// SignedKeyService は委任キーの対象サービスを返す。
func (p *Parameters) SignedKeyService() string { return p.signedKeyService }

// SignedKeyVersion は委任キーの署名バージョンを返す。
func (p *Parameters) SignedKeyVersion() string { return p.signedKeyVersion }

// PreauthorizedAgentObjectID は事前承認済みエージェントのオブジェクトIDを返す。
func (p *Parameters) PreauthorizedAgentObjectID() string {
	return p.preauthorizedAgentObjectID
}

// CorrelationID は相関IDを返す。
func (p *Parameters) CorrelationID() string { return p.correlationID }

// escape はクエリ文字列用のパーセントエンコードを行う。
// url.QueryEscapeはスペースを+へ変換するが、SASの検証器は
// encodeURIComponent互換の%20を前提とするため置き換える。
// 入力中の+自体は%2Bへ変換済みなので置換は衝突しない。
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// formatTime はタイムスタンプをワイヤ形式へ変換する。
// 秒未満は切り捨て、常にUTCで出力する。ゼロ値は空文字列。
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// Encode はフィールド集合をURLへ連結可能なクエリ文字列へ変換する。
// キーの出現順序は固定で、値が空のフィールドは出力されない。
// 同一のParametersに対する呼び出しは常に同一のバイト列を返す。
func (p *Parameters) Encode() string {
	var pairs []string
	add := func(key, value string) {
		if value == "" {
			return
		}
		pairs = append(pairs, escape(key)+"="+escape(value))
	}

	// サービス側の検証器が前提とする順序。並べ替え禁止。
	add("sv", p.version)
	add("ss", p.services)
	add("srt", p.resourceTypes)
	add("spr", string(p.protocol))
	add("st", formatTime(p.startsOn))
	add("se", formatTime(p.expiresOn))
	add("sip", p.ipRange.String())
	add("si", p.identifier)
	add("skoid", p.signedObjectID)
	add("sktid", p.signedTenantID)
	add("skt", formatTime(p.signedKeyStart))
	add("ske", formatTime(p.signedKeyExpiry))
	add("sks", p.signedKeyService)
	add("skv", p.signedKeyVersion)
	add("sr", p.resource)
	add("sp", p.permissions)
	add("sig", p.signature)
	add("rscc", p.cacheControl)
	add("rscd", p.contentDisposition)
	add("rsce", p.contentEncoding)
	add("rscl", p.contentLanguage)
	add("rsct", p.contentType)
	add("saoid", p.preauthorizedAgentObjectID)
	add("scid", p.correlationID)
	add("tn", p.tableName)
	add("srk", p.startRowKey)
	add("spk", p.startPartitionKey)
	add("epk", p.endPartitionKey)
	add("erk", p.endRowKey)

	return strings.Join(pairs, "&")
}
