// Package s3store implements remote.Backend over an S3 compatible bucket.
// Folders are key prefixes ending in "/", files are object keys, and the
// SHA-1 of every uploaded object is kept in its user metadata.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/utils"
)

const (
	metaSHA1 = "sha1"

	defaultPartSize = int64(8 * 1024 * 1024)
	minPartSize     = int64(5 * 1024 * 1024) // S3 minimum for all but the last part
)

// API is the subset of *s3.Client the store uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type Options struct {
	Bucket    string
	Region    string
	Endpoint  string // set for MinIO and other S3 compatible services
	AccessKey string
	SecretKey string
	PartSize  int64
}

type Store struct {
	api      API
	bucket   string
	partSize int64
}

// New loads the AWS config chain, with static credentials when given.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3store: bucket missing")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	partSize := max(opts.PartSize, minPartSize)
	if opts.PartSize == 0 {
		partSize = defaultPartSize
	}
	return &Store{api: client, bucket: opts.Bucket, partSize: partSize}, nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, bucket string) *Store {
	return &Store{api: api, bucket: bucket, partSize: defaultPartSize}
}

func (s *Store) ListItems(ctx context.Context, folderID string) ([]remote.Item, error) {
	prefix := folderPrefix(folderID)
	var items []remote.Item

	pager := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    &s.bucket,
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrap("list_items", folderID, err)
		}

		for _, cp := range page.CommonPrefixes {
			sub := aws.ToString(cp.Prefix)
			name := strings.TrimSuffix(strings.TrimPrefix(sub, prefix), "/")
			if name == "" {
				continue
			}
			items = append(items, remote.Item{ID: sub, Name: name, Kind: remote.KindFolder})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			// the folder's own marker
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			items = append(items, remote.Item{ID: key, Name: name, Kind: remote.KindFile})
		}
	}
	return items, nil
}

func (s *Store) GetFileMetadata(ctx context.Context, fileID string) (*remote.Metadata, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(fileID),
	})
	if err != nil {
		return nil, wrap("get_file_metadata", fileID, err)
	}

	return &remote.Metadata{
		ID:          fileID,
		Name:        path.Base(fileID),
		ModifiedAt:  aws.ToTime(out.LastModified),
		Size:        aws.ToInt64(out.ContentLength),
		ContentHash: out.Metadata[metaSHA1],
	}, nil
}

func (s *Store) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(fileID),
	})
	if err != nil {
		return nil, wrap("download", fileID, err)
	}
	return out.Body, nil
}

// UploadNew refuses to overwrite an existing object, matching the name
// conflict of hierarchical backends.
func (s *Store) UploadNew(ctx context.Context, parentID, localPath, name string, mode remote.UploadMode) (*remote.Ref, error) {
	key := folderPrefix(parentID) + name

	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: aws.String(key)})
	if err == nil {
		return nil, &remote.BackendError{Op: "upload_new", ID: parentID, Status: http.StatusConflict, Code: "item_name_in_use", Err: fmt.Errorf("%s exists", key)}
	} else if werr := wrap("upload_new", parentID, err); !errors.Is(werr, remote.ErrNotFound) {
		return nil, werr
	}

	if err := s.put(ctx, key, localPath, mode); err != nil {
		return nil, wrap("upload_new", parentID, err)
	}
	return &remote.Ref{ID: key, Name: name}, nil
}

func (s *Store) UpdateContents(ctx context.Context, fileID, localPath string, mode remote.UploadMode) (*remote.Ref, error) {
	if err := s.put(ctx, fileID, localPath, mode); err != nil {
		return nil, wrap("update_contents", fileID, err)
	}
	return &remote.Ref{ID: fileID, Name: path.Base(fileID)}, nil
}

// CreateSubfolder writes the zero byte "name/" marker. Creating an existing
// folder returns it unchanged.
func (s *Store) CreateSubfolder(ctx context.Context, parentID, name string) (*remote.Ref, error) {
	key := folderPrefix(parentID) + name + "/"
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, wrap("create_subfolder", parentID, err)
	}
	return &remote.Ref{ID: key, Name: name}, nil
}

func (s *Store) put(ctx context.Context, key, localPath string, mode remote.UploadMode) error {
	sum, err := utils.FileSHA1(localPath)
	if err != nil {
		return err
	}
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	meta := map[string]string{metaSHA1: sum}

	if mode == remote.UploadChunked {
		return s.putMultipart(ctx, key, file, info.Size(), meta)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(utils.ContentType(key)),
		Metadata:      meta,
	})
	return err
}

// putMultipart uploads the file in partSize pieces and aborts the upload if
// any step fails.
func (s *Store) putMultipart(ctx context.Context, key string, file *os.File, size int64, meta map[string]string) (err error) {
	created, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      &s.bucket,
		Key:         aws.String(key),
		ContentType: aws.String(utils.ContentType(key)),
		Metadata:    meta,
	})
	if err != nil {
		return err
	}
	uploadID := created.UploadId

	defer func() {
		if err == nil {
			return
		}
		_, abortErr := s.api.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   &s.bucket,
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			slog.Warn("s3 abort multipart", "key", key, "error", abortErr)
		}
	}()

	var parts []types.CompletedPart
	buf := make([]byte, s.partSize)
	partNumber := int32(1)
	for offset := int64(0); offset < size || partNumber == 1; offset += s.partSize {
		n := min(s.partSize, size-offset)
		chunk := buf[:n]
		if _, err := file.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read part %d: %w", partNumber, err)
		}

		out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        &s.bucket,
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(chunk),
			ContentLength: aws.Int64(n),
		})
		if err != nil {
			return fmt.Errorf("upload part %d: %w", partNumber, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
		partNumber++
		if size == 0 {
			break
		}
	}

	_, err = s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &s.bucket,
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	return err
}

// folderPrefix normalizes a folder id; "" is the bucket root.
func folderPrefix(id string) string {
	if id == "" || strings.HasSuffix(id, "/") {
		return id
	}
	return id + "/"
}

// wrap converts SDK errors into *remote.BackendError with an HTTP status.
func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var be *remote.BackendError
	if errors.As(err, &be) {
		return err
	}

	be = &remote.BackendError{Op: op, ID: id, Err: err}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		be.Status = statusErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		be.Code = apiErr.ErrorCode()
		if be.Status == 0 {
			switch be.Code {
			case "NotFound", "NoSuchKey", "NoSuchBucket", "NoSuchUpload":
				be.Status = http.StatusNotFound
			case "AccessDenied":
				be.Status = http.StatusForbidden
			case "SlowDown":
				be.Status = http.StatusTooManyRequests
			}
		}
	}
	return be
}

var _ remote.Backend = (*Store)(nil)
