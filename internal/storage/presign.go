// Package storage はメディアファイルのオブジェクトストレージへのアップロードを扱う。
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// テストで差し替えるためパッケージ変数として保持する。
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// allowedContentTypes はアップロードを許可するMIMEタイプと保存時の拡張子。
var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/wav":  ".wav",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// Config はS3互換ストレージの接続設定。
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string // MinIOなどS3互換サービスの場合に指定する
	AccessKey      string
	SecretKey      string
	PublicBaseURL  string // 公開URLのベース。未指定の場合はEndpoint/Bucketから組み立てる
	PresignExpires time.Duration
}

// Upload は署名付きアップロードURLの発行結果。
type Upload struct {
	UploadURL   string    `json:"upload_url"`
	PublicURL   string    `json:"public_url"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UploadPresigner は署名付きアップロードURLを発行するインターフェース。
type UploadPresigner interface {
	PresignUpload(ctx context.Context, recipientID, contentType string) (*Upload, error)
}

// Presigner はS3の署名付きPUT URLを発行する。
type Presigner struct {
	cfg    Config
	client *s3.PresignClient
	now    func() time.Time
	newID  func() string
}

// NewPresigner はPresignerを生成する。
// 署名はローカルで計算されるため、生成時にストレージへの接続は行わない。
func NewPresigner(ctx context.Context, cfg Config) (*Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}
	if cfg.PresignExpires <= 0 {
		cfg.PresignExpires = 15 * time.Minute
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Presigner{
		cfg:    cfg,
		client: s3.NewPresignClient(client),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// PresignUpload は受け取り手のメディア用に署名付きPUT URLを発行する。
// 許可されていないMIMEタイプの場合は *model.APIError を返す。
func (p *Presigner) PresignUpload(ctx context.Context, recipientID, contentType string) (*Upload, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, model.NewInvalidUploadError("recipient_id is required")
	}

	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return nil, model.NewInvalidUploadError(fmt.Sprintf("content type %q is not allowed", contentType))
	}

	now := p.now().UTC()
	key := objectKey(recipientID, now, p.newID(), ext)

	req, err := presignPutObject(p.client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.cfg.PresignExpires))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &Upload{
		UploadURL:   req.URL,
		PublicURL:   p.publicURL(key),
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   now.Add(p.cfg.PresignExpires),
	}, nil
}

func (p *Presigner) publicURL(key string) string {
	base := p.cfg.PublicBaseURL
	if base == "" {
		if p.cfg.Endpoint != "" {
			base = strings.TrimRight(p.cfg.Endpoint, "/") + "/" + p.cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", p.cfg.Bucket, p.cfg.Region)
		}
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// objectKey は recipients/{id}/{yyyy}/{mm}/{uuid}{ext} 形式のキーを返す。
func objectKey(recipientID string, t time.Time, id, ext string) string {
	return fmt.Sprintf("recipients/%s/%04d/%02d/%s%s", recipientID, t.Year(), int(t.Month()), id, ext)
}

// compile-time interface check
var _ UploadPresigner = (*Presigner)(nil)
