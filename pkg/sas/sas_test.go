package sas

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewParameters_VersionRequired(t *testing.T) {
	_, err := NewParameters("", "SIG", nil)
	if !errors.Is(err, ErrVersionRequired) {
		t.Errorf("want ErrVersionRequired, got %v", err)
	}
}

func TestNewParameters_SignatureRequired(t *testing.T) {
	_, err := NewParameters("2023-01-01", "", nil)
	if !errors.Is(err, ErrSignatureRequired) {
		t.Errorf("want ErrSignatureRequired, got %v", err)
	}
}

func TestParameters_Encode_Minimal(t *testing.T) {
	p, err := NewParameters("2023-01-01", "SIGXYZ", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	want := "sv=2023-01-01&sig=SIGXYZ"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestParameters_Encode_Scenario(t *testing.T) {
	// §仕様シナリオ: テーブル名・権限・期限のみ指定した場合の完全一致
	expiry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewParameters("2023-01-01", "SIGXYZ", &Options{
		TableName:   "T1",
		Permissions: "r",
		ExpiresOn:   expiry,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	want := "sv=2023-01-01&se=2024-01-01T00%3A00%3A00Z&sp=r&sig=SIGXYZ&tn=T1"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestParameters_Encode_FixedOrder(t *testing.T) {
	start := time.Date(2023, 6, 1, 10, 30, 0, 0, time.UTC)
	expiry := time.Date(2023, 6, 2, 10, 30, 0, 0, time.UTC)
	p, err := NewParameters("2020-12-06", "c2ln", &Options{
		Permissions:       "raud",
		Services:          "t",
		ResourceTypes:     "o",
		Protocol:          ProtocolHTTPS,
		StartsOn:          start,
		ExpiresOn:         expiry,
		Identifier:        "policy-1",
		IPRange:           IPRange{Start: "10.0.0.1", End: "10.0.0.5"},
		TableName:         "orders",
		StartPartitionKey: "pk1",
		StartRowKey:       "rk1",
		EndPartitionKey:   "pk9",
		EndRowKey:         "rk9",
		DelegationKey: &UserDelegationKey{
			SignedObjectID: "oid",
			SignedTenantID: "tid",
			SignedStart:    start,
			SignedExpiry:   expiry,
			SignedService:  "t",
			SignedVersion:  "2020-12-06",
		},
		PreauthorizedAgentObjectID: "agent",
		CorrelationID:              "corr",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()

	// 全フィールド指定時のキー出現順序がワイヤ契約と一致すること
	wantOrder := []string{
		"sv=", "ss=", "srt=", "spr=", "st=", "se=", "sip=", "si=",
		"skoid=", "sktid=", "skt=", "ske=", "sks=", "skv=",
		"sp=", "sig=", "saoid=", "scid=", "tn=", "srk=", "spk=", "epk=", "erk=",
	}
	pos := -1
	for _, prefix := range wantOrder {
		idx := strings.Index(got, "&"+prefix)
		if strings.HasPrefix(got, prefix) {
			idx = 0
		}
		if idx < 0 {
			t.Fatalf("missing key %q in %q", prefix, got)
		}
		if idx <= pos && pos >= 0 {
			t.Errorf("key %q out of order in %q", prefix, got)
		}
		pos = idx
	}

	// 空のペアが含まれないこと
	if strings.Contains(got, "=&") || strings.HasSuffix(got, "=") {
		t.Errorf("encoded string contains empty pair: %q", got)
	}

	// 予約スロット（sr, rscc〜rsct）はテーブル用構築経路では出現しない
	for _, key := range []string{"sr=", "rscc=", "rscd=", "rsce=", "rscl=", "rsct="} {
		if strings.Contains(got, "&"+key) || strings.HasPrefix(got, key) {
			t.Errorf("reserved key %q must not appear: %q", key, got)
		}
	}
}

func TestParameters_Encode_Idempotent(t *testing.T) {
	p, err := NewParameters("2023-01-01", "SIG", &Options{
		TableName:   "T1",
		Permissions: "r",
		ExpiresOn:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := p.Encode()
	second := p.Encode()
	if first != second {
		t.Errorf("encoding is not idempotent: %q vs %q", first, second)
	}
}

func TestParameters_Encode_DelegationKeyAbsent(t *testing.T) {
	p, err := NewParameters("2023-01-01", "SIG", &Options{
		TableName: "T1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	for _, key := range []string{"skoid=", "sktid=", "skt=", "ske=", "sks=", "skv="} {
		if strings.Contains(got, key) {
			t.Errorf("delegation key field %q must be absent: %q", key, got)
		}
	}
}

func TestParameters_Encode_DelegationKeyBlock(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2023, 6, 8, 0, 0, 0, 0, time.UTC)
	p, err := NewParameters("2023-01-01", "SIG", &Options{
		DelegationKey: &UserDelegationKey{
			SignedObjectID: "oid",
			SignedTenantID: "tid",
			SignedStart:    start,
			SignedExpiry:   expiry,
			SignedService:  "t",
			SignedVersion:  "2020-12-06",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	for _, key := range []string{"skoid=oid", "sktid=tid", "skt=2023-06-01T00%3A00%3A00Z", "ske=2023-06-08T00%3A00%3A00Z", "sks=t", "skv=2020-12-06"} {
		if !strings.Contains(got, key) {
			t.Errorf("want %q in %q", key, got)
		}
	}
}

func TestParameters_Encode_TimestampTruncation(t *testing.T) {
	// 秒未満は切り捨て、タイムゾーンはUTCへ正規化される
	jst := time.FixedZone("JST", 9*60*60)
	expiry := time.Date(2024, 1, 1, 9, 0, 0, 999_000_000, jst)
	p, err := NewParameters("2023-01-01", "SIG", &Options{ExpiresOn: expiry})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	if !strings.Contains(got, "se=2024-01-01T00%3A00%3A00Z") {
		t.Errorf("want truncated UTC timestamp, got %q", got)
	}
}

func TestParameters_Encode_RowKeyWithoutPartitionKey(t *testing.T) {
	// ローキーのみの範囲指定は検証せずそのまま出力する（寛容な挙動を維持）
	p, err := NewParameters("2023-01-01", "SIG", &Options{
		StartRowKey: "rk1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	if !strings.Contains(got, "srk=rk1") {
		t.Errorf("want srk=rk1 in %q", got)
	}
	if strings.Contains(got, "spk=") {
		t.Errorf("spk must be absent in %q", got)
	}
}

func TestParameters_Encode_ValueEscaping(t *testing.T) {
	p, err := NewParameters("2023-01-01", "sig+with/special=", &Options{
		TableName: "table name",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Encode()
	if !strings.Contains(got, "sig=sig%2Bwith%2Fspecial%3D") {
		t.Errorf("signature not escaped: %q", got)
	}
	// スペースは+ではなく%20でエンコードされる
	if !strings.Contains(got, "tn=table%20name") {
		t.Errorf("table name not escaped: %q", got)
	}
	if strings.Contains(got, "+") {
		t.Errorf("encoded string must not contain literal +: %q", got)
	}
}

func TestIPRange_String(t *testing.T) {
	tests := []struct {
		name string
		in   IPRange
		want string
	}{
		{"start only", IPRange{Start: "10.0.0.1"}, "10.0.0.1"},
		{"end equals start", IPRange{Start: "10.0.0.1", End: "10.0.0.1"}, "10.0.0.1"},
		{"range", IPRange{Start: "10.0.0.1", End: "10.0.0.5"}, "10.0.0.1-10.0.0.5"},
		{"empty", IPRange{}, ""},
		// 構文検証は行わないため不正な値もそのまま通る
		{"malformed passthrough", IPRange{Start: "not-an-ip"}, "not-an-ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.String(); got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParameters_Getters(t *testing.T) {
	expiry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewParameters("2023-01-01", "SIG", &Options{
		Permissions: "r",
		ExpiresOn:   expiry,
		TableName:   "T1",
		IPRange:     IPRange{Start: "10.0.0.1"},
		Protocol:    ProtocolHTTPS,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Version() != "2023-01-01" {
		t.Errorf("want version 2023-01-01, got %s", p.Version())
	}
	if p.Signature() != "SIG" {
		t.Errorf("want signature SIG, got %s", p.Signature())
	}
	if p.Permissions() != "r" {
		t.Errorf("want permissions r, got %s", p.Permissions())
	}
	if !p.ExpiresOn().Equal(expiry) {
		t.Errorf("want expiry %v, got %v", expiry, p.ExpiresOn())
	}
	if p.TableName() != "T1" {
		t.Errorf("want table T1, got %s", p.TableName())
	}
	if p.IPRange().Start != "10.0.0.1" {
		t.Errorf("want ip start 10.0.0.1, got %s", p.IPRange().Start)
	}
	if p.Protocol() != ProtocolHTTPS {
		t.Errorf("want protocol https, got %s", p.Protocol())
	}
}
