package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/shaiso/Alignflow/internal/domain"
)

// S3Store — хранилище артефактов в бакете S3 (job store вида s3://bucket/prefix).
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	tmpDir   string
}

// S3Config — настройки S3Store.
type S3Config struct {
	// URL — s3://bucket/prefix.
	URL string

	// Region — регион AWS (пусто — из окружения).
	Region string

	// TmpDir — каталог для временных файлов при Put (пусто — os.TempDir()).
	TmpDir string
}

// NewS3Store создаёт хранилище по URL s3://bucket/prefix.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	bucket, prefix, err := parseS3URL(cfg.URL)
	if err != nil {
		return nil, err
	}

	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	return &S3Store{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		prefix:   prefix,
		tmpDir:   cfg.TmpDir,
	}, nil
}

// IsS3URL возвращает true для адресов s3://.
func IsS3URL(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

func parseS3URL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func (s *S3Store) key(id domain.ArtifactID) string {
	return path.Join(s.prefix, "objects", string(id[:2]), string(id))
}

// Put сохраняет данные и возвращает их дескриптор.
//
// Дескриптор известен только после чтения всех данных, поэтому они
// сначала пишутся во временный файл.
func (s *S3Store) Put(ctx context.Context, r io.Reader) (domain.ArtifactID, error) {
	tmp, err := os.CreateTemp(s.tmpDir, "alignflow-put-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	h := newHash()
	if _, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	id := idFromHash(h)

	exists, err := s.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if exists {
		return id, nil
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind artifact: %w", err)
	}
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   tmp,
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", id, err)
	}
	return id, nil
}

// Open открывает артефакт на чтение.
func (s *S3Store) Open(ctx context.Context, id domain.ArtifactID) (io.ReadCloser, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.getObject(ctx, s.bucket, s.key(id))
}

func (s *S3Store) getObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// Exists проверяет наличие артефакта.
func (s *S3Store) Exists(ctx context.Context, id domain.ArtifactID) (bool, error) {
	if validID(id) != nil {
		return false, nil
	}
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head artifact %s: %w", id, err)
}

// Import копирует файл в хранилище: s3:// адрес или локальный путь.
func (s *S3Store) Import(ctx context.Context, location string) (domain.ArtifactID, bool, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if IsS3URL(location) {
		var bucket, key string
		bucket, key, err = parseS3URL(location)
		if err != nil {
			return "", false, err
		}
		rc, err = s.getObject(ctx, bucket, key)
		if err != nil && isNotFoundErr(err) {
			return "", false, nil
		}
	} else {
		rc, err = openLocal(location)
		if err != nil && isNotExist(err) {
			return "", false, nil
		}
	}
	if err != nil {
		return "", false, fmt.Errorf("import %s: %w", location, err)
	}
	defer rc.Close()

	id, err := s.Put(ctx, rc)
	if err != nil {
		return "", false, fmt.Errorf("import %s: %w", location, err)
	}
	return id, true, nil
}

// Export копирует артефакт в локальный файл.
func (s *S3Store) Export(ctx context.Context, id domain.ArtifactID, path string) error {
	return exportTo(ctx, s, id, path)
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
