package fileops

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scribe/internal/apperr"
	"github.com/starford/scribe/internal/fileops/fileopstest"
)

type fakePresigner struct {
	expires time.Duration
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://" + aws.ToString(in.Bucket) + ".example.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc",
		Method: http.MethodGet,
	}, nil
}

func TestObject_KeysHaveNoLeadingSlash(t *testing.T) {
	api := fileopstest.NewS3()
	o := NewObject(api, "blog")
	ctx := context.Background()

	require.NoError(t, o.Mkdir(ctx, "draft"))
	require.NoError(t, o.Write(ctx, "draft/abc/post.md", []byte("# Hi")))

	assert.Equal(t, []string{"draft/", "draft/abc/post.md"}, api.Keys())
}

func TestObject_ListUnknownPrefixIsEmpty(t *testing.T) {
	o := NewObject(fileopstest.NewS3(), "blog")
	names, err := o.List(context.Background(), "post")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestObject_RefUnsupportedWithoutPresigner(t *testing.T) {
	o := NewObject(fileopstest.NewS3(), "blog")
	_, err := o.Ref(context.Background(), "post/abc/img.png")
	assert.ErrorIs(t, err, apperr.ErrUnsupported)
}

func TestObject_RefPresigns(t *testing.T) {
	p := &fakePresigner{}
	o := NewObject(fileopstest.NewS3(), "blog", WithPresigner(p, 5*time.Minute))
	ctx := context.Background()
	require.NoError(t, o.Write(ctx, "post/abc/img.png", []byte("png")))

	url, err := o.Ref(ctx, "post/abc/img.png")
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example.com/post/abc/img.png?X-Amz-Signature=abc", url)
	assert.Equal(t, 5*time.Minute, p.expires)
}

func TestObject_RefMissingObject(t *testing.T) {
	p := &fakePresigner{}
	o := NewObject(fileopstest.NewS3(), "blog", WithPresigner(p, time.Minute))

	_, err := o.Ref(context.Background(), "post/abc/missing.png")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, p.expires, "nothing should be presigned for a missing object")
}

func TestObject_ReadDirectoryMarkerIsEmpty(t *testing.T) {
	o := NewObject(fileopstest.NewS3(), "blog")
	ctx := context.Background()
	require.NoError(t, o.Mkdir(ctx, "draft/abc"))

	_, err := o.Read(ctx, "draft/abc")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
