// Package blob — скачивание скриншотов из объектного хранилища (Cloudflare R2
// по S3-протоколу). Загрузки идут через троттлер: лимит DOWNLOAD_RPS бережёт
// хранилище, а его же backoff пересдаёт временные сетевые сбои.
package blob

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-faster/errors"

	"schedule-worker/internal/infra/throttle"
)

// maxDownloadRetries ограничивает пересдачи одной загрузки поверх ретраев SDK.
const maxDownloadRetries = 3

// Config — параметры подключения к хранилищу.
type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	KeyPrefix       string
	DownloadRPS     int
}

// Fetcher отдаёт содержимое объекта по ключу. Абстракция нужна конвейеру,
// чтобы в тестах подменять хранилище на карту байтов.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Client — Fetcher поверх S3-совместимого API.
type Client struct {
	s3        *s3.Client
	bucket    string
	keyPrefix string
	throttler *throttle.Throttler
}

// New собирает клиент хранилища: статические креды, кастомный endpoint и
// троттлер на DownloadRPS. Троттлер запускается сразу и живёт в контексте ctx.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.EndpointURL)
		// R2 не поддерживает virtual-hosted адресацию бакетов.
		o.UsePathStyle = true
	})

	th := throttle.New(cfg.DownloadRPS,
		throttle.WithMaxRetries(maxDownloadRetries),
		throttle.WithWaitExtractors(WaitAfter429))
	th.Start(ctx)

	return &Client{
		s3:        s3Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		throttler: th,
	}, nil
}

// Close останавливает троттлер клиента.
func (c *Client) Close() {
	c.throttler.Stop()
}

// Fetch скачивает объект целиком. Ключ дополняется префиксом из конфигурации,
// если тот задан и ещё не присутствует в ключе.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	fullKey := c.resolveKey(key)

	var body []byte
	err := c.throttler.Do(ctx, func() error {
		out, getErr := c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(fullKey),
		})
		if getErr != nil {
			return getErr
		}
		defer func() { _ = out.Body.Close() }()

		data, readErr := io.ReadAll(out.Body)
		if readErr != nil {
			return readErr
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch object %s", fullKey)
	}
	return body, nil
}

// resolveKey склеивает префикс и ключ без дублирования разделителя.
func (c *Client) resolveKey(key string) string {
	if c.keyPrefix == "" || strings.HasPrefix(key, c.keyPrefix) {
		return key
	}
	return strings.TrimSuffix(c.keyPrefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// WaitAfter429 — WaitExtractor для ответов «помедленнее»: смотрит на текст
// ошибки SDK и выдерживает фиксированную паузу. Подключается опционально.
func WaitAfter429(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	if strings.Contains(msg, "TooManyRequests") || strings.Contains(msg, "SlowDown") {
		return 2 * time.Second, true
	}
	return 0, false
}
