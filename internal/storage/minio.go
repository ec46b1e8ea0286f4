package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
)

const defaultRegion = "us-east-1"

// Archive 上传原文件归档到MinIO
type Archive struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewArchive 创建MinIO客户端并确保bucket存在
func NewArchive(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "docqa-uploads"
	}

	// minio.New 不需要协议前缀
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: defaultRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	a := &Archive{client: client, bucket: bucket, logger: log}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info("MinIO归档初始化成功", zap.String("endpoint", endpoint), zap.String("bucket", bucket))
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: defaultRegion}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ObjectKey 生成对象路径：<sessionId>/<yyyymmdd>/<unix纳秒>-<文件名>
func ObjectKey(sessionID, fileName string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join(sessionID, now.UTC().Format("20060102"), fmt.Sprintf("%d-%s", now.UnixNano(), name))
}

// Put 归档单个文件，返回对象路径
func (a *Archive) Put(ctx context.Context, sessionID, fileName string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := ObjectKey(sessionID, fileName, time.Now())

	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"session-id": sessionID,
			"file-name":  fileName,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", fileName, err)
	}

	a.logger.Debug("文件已归档", zap.String("bucket", a.bucket), zap.String("key", key))
	return key, nil
}
