package fileops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/starford/scribe/internal/apperr"
)

// ObjectAPI is the subset of the S3 client the Object backend calls.
// *s3.Client satisfies it.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner creates pre-signed GET requests. *s3.PresignClient satisfies it.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	_ FileOperations = (*Object)(nil)
	_ RefResolver    = (*Object)(nil)
)

// Object implements FileOperations on an S3 (or S3-compatible) bucket.
// Logical paths are used verbatim as object keys; directories are
// zero-byte objects whose key ends in "/".
type Object struct {
	api        ObjectAPI
	bucket     string
	presigner  Presigner
	presignTTL time.Duration
}

// ObjectOption configures an Object backend.
type ObjectOption func(*Object)

// WithPresigner enables Ref, returning URLs valid for ttl (15 minutes when
// ttl is not positive).
func WithPresigner(p Presigner, ttl time.Duration) ObjectOption {
	return func(o *Object) {
		o.presigner = p
		if ttl > 0 {
			o.presignTTL = ttl
		}
	}
}

// NewObject creates an Object backend over bucket.
func NewObject(api ObjectAPI, bucket string, opts ...ObjectOption) *Object {
	o := &Object{api: api, bucket: bucket, presignTTL: 15 * time.Minute}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Read downloads a whole object.
func (o *Object) Read(ctx context.Context, p string) ([]byte, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, notFound("read", key)
	}
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("read", key)
		}
		return nil, backendErr("get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, backendErr("get", key, err)
	}
	return data, nil
}

// Write uploads an object. A put replaces the object atomically.
func (o *Object) Write(ctx context.Context, p string, data []byte) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: fileops: write: empty path", apperr.ErrInvalidArgument)
	}
	_, err = o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return backendErr("put", key, err)
	}
	return nil
}

// List returns the names directly under the prefix p. A prefix with no
// objects lists as empty.
func (o *Object) List(ctx context.Context, p string) ([]string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	prefix := dirKey(key)

	paginator := s3.NewListObjectsV2Paginator(o.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(o.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	seen := make(map[string]struct{})
	out := []string{}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, backendErr("list", key, err)
		}
		for _, cp := range page.CommonPrefixes {
			add(strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/"))
		}
		for _, obj := range page.Contents {
			// The directory marker itself trims to "".
			add(strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	return out, nil
}

// Mkdir puts a zero-byte marker object for p and its parents.
func (o *Object) Mkdir(ctx context.Context, p string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	segments := strings.Split(key, "/")
	for i := range segments {
		marker := dirKey(strings.Join(segments[:i+1], "/"))
		_, err := o.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(o.bucket),
			Key:           aws.String(marker),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		})
		if err != nil {
			return backendErr("mkdir", key, err)
		}
	}
	return nil
}

// RemoveAll deletes the object p and every object under the prefix p/.
func (o *Object) RemoveAll(ctx context.Context, p string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: fileops: refusing to remove root", apperr.ErrInvalidArgument)
	}

	keys := []string{key}
	paginator := s3.NewListObjectsV2Paginator(o.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(dirKey(key)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return backendErr("list", key, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	for _, k := range keys {
		_, err := o.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(k),
		})
		if err != nil && !isNotFound(err) {
			return backendErr("delete", k, err)
		}
	}
	return nil
}

// Ref returns a pre-signed GET URL for p. The object must exist.
func (o *Object) Ref(ctx context.Context, p string) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if o.presigner == nil {
		return "", fmt.Errorf("%w: fileops: presigning not configured", apperr.ErrUnsupported)
	}
	if key == "" {
		return "", notFound("ref", key)
	}
	if _, err := o.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return "", notFound("ref", key)
		}
		return "", backendErr("head", key, err)
	}
	req, err := o.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = o.presignTTL
	})
	if err != nil {
		return "", backendErr("presign", key, err)
	}
	return req.URL, nil
}

// dirKey turns a directory path into the key prefix of its children.
func dirKey(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
