package infra

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSSigner はCloud KMSのMAC鍵によるSAS署名器。
// 署名対象文字列のHMACを計算し、Base64エンコードした値を返す。
type KMSSigner struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSSigner は環境変数KMS_KEY_NAMEからキー名を取得してKMSSignerを生成する。
func NewKMSSigner(ctx context.Context) (*KMSSigner, error) {
	keyName := os.Getenv("KMS_KEY_NAME")
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME environment variable is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSSigner{
		client:  client,
		keyName: keyName,
	}, nil
}

// Sign は署名対象文字列のMACをCloud KMSで計算する。
func (s *KMSSigner) Sign(ctx context.Context, message []byte) (string, error) {
	req := &kmspb.MacSignRequest{
		Name: s.keyName,
		Data: message,
	}
	resp, err := s.client.MacSign(ctx, req)
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(resp.Mac), nil
}

// Close はKMSクライアントを閉じる。
func (s *KMSSigner) Close() error {
	return s.client.Close()
}
