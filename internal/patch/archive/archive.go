// Package archive keeps pruned backups in S3 compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Laisky/codepatch/internal/library/kms"
	"github.com/Laisky/codepatch/internal/patch"
	"github.com/Laisky/codepatch/library/config"
)

// Settings configures the archive bucket.
type Settings struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
	// EncryptionKeys are "id:secret" KEKs. When set, objects are sealed
	// under the largest id; older ids stay readable after rotation.
	EncryptionKeys []string
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// LoadSettingsFromConfig reads settings.codepatch.archive.*.
func LoadSettingsFromConfig() Settings {
	return Settings{
		Enabled:   config.Bool("settings.codepatch.archive.enabled", false),
		Endpoint:  config.String("settings.codepatch.archive.endpoint", ""),
		AccessKey: config.String("settings.codepatch.archive.access_key", ""),
		SecretKey: config.String("settings.codepatch.archive.secret_key", ""),
		Bucket:    config.String("settings.codepatch.archive.bucket", "codepatch-backups"),
		Region:    config.String("settings.codepatch.archive.region", "us-east-1"),
		UseSSL:    config.Bool("settings.codepatch.archive.use_ssl", true),
		Prefix:    config.String("settings.codepatch.archive.prefix", "backups"),

		EncryptionKeys: config.StringSlice("settings.codepatch.archive.encryption_keys", nil),
	}
}

// Archive stores one JSON object per backup.
type Archive struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	sealer   *kms.Sealer
	initOnce sync.Once
	initErr  error
}

// New connects to the configured endpoint. The bucket is created on first use.
func New(settings Settings) (*Archive, error) {
	endpoint := strings.TrimSpace(settings.Endpoint)
	if endpoint == "" {
		return nil, errors.New("archive endpoint is required")
	}
	if strings.TrimSpace(settings.AccessKey) == "" || strings.TrimSpace(settings.SecretKey) == "" {
		return nil, errors.New("archive access key and secret key are required")
	}
	bucket := strings.TrimSpace(settings.Bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	region := strings.TrimSpace(settings.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, ""),
		Secure:    settings.UseSSL,
		Region:    region,
		Transport: settings.Transport,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client")
	}

	archive := &Archive{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(settings.Prefix), "/"),
	}
	if len(settings.EncryptionKeys) > 0 {
		keks, err := kms.ParseKEKs(settings.EncryptionKeys)
		if err != nil {
			return nil, errors.Wrap(err, "parse archive encryption keys")
		}
		if archive.sealer, err = kms.NewSealer(keks); err != nil {
			return nil, errors.Wrap(err, "new archive sealer")
		}
	}

	return archive, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = errors.Wrapf(err, "check bucket %s", a.bucket)
			return
		}
		if exists {
			return
		}
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			a.initErr = errors.Wrapf(err, "make bucket %s", a.bucket)
		}
	})
	return a.initErr
}

func (a *Archive) objectKey(id uuid.UUID) string {
	if a.prefix == "" {
		return id.String() + ".json"
	}
	return a.prefix + "/" + id.String() + ".json"
}

// Put uploads the full backup record.
func (a *Archive) Put(ctx context.Context, record patch.BackupRecord) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal backup")
	}
	contentType := "application/json"
	if a.sealer != nil {
		if payload, err = a.sealer.Seal(ctx, payload, []byte(record.ID.String())); err != nil {
			return errors.Wrapf(err, "seal backup %s", record.ID)
		}
		contentType = "application/octet-stream"
	}

	_, err = a.client.PutObject(ctx, a.bucket, a.objectKey(record.ID),
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrapf(err, "put backup %s", record.ID)
	}
	return nil
}

// Get downloads an archived backup. Missing objects wrap patch.ErrNotFound.
func (a *Archive) Get(ctx context.Context, id uuid.UUID) (patch.BackupRecord, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return patch.BackupRecord{}, err
	}

	obj, err := a.client.GetObject(ctx, a.bucket, a.objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return patch.BackupRecord{}, a.translate(err, id)
	}
	defer obj.Close() // nolint: errcheck

	payload, err := io.ReadAll(obj)
	if err != nil {
		return patch.BackupRecord{}, a.translate(err, id)
	}

	if kms.IsSealed(payload) {
		if a.sealer == nil {
			return patch.BackupRecord{}, errors.Errorf("archived backup %s is sealed but no encryption keys are configured", id)
		}
		if payload, err = a.sealer.Open(ctx, payload, []byte(id.String())); err != nil {
			return patch.BackupRecord{}, errors.Wrapf(err, "open archived backup %s", id)
		}
	}

	var record patch.BackupRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return patch.BackupRecord{}, errors.Wrapf(err, "decode archived backup %s", id)
	}
	return record, nil
}

func (a *Archive) translate(err error, id uuid.UUID) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.Wrapf(patch.ErrNotFound, "archived backup %s", id)
	}
	return errors.Wrapf(err, "get archived backup %s", id)
}
