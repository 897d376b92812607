package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "processes/p1/payload.json", want: "processes/p1/payload.json"},
		{name: "simple prefix", prefix: "archive", key: "processes/p1/payload.json", want: "archive/processes/p1/payload.json"},
		{name: "prefix trailing slash", prefix: "archive/", key: "p1.json", want: "archive/p1.json"},
		{name: "prefix and key slashes", prefix: "/archive/", key: "/p1.json", want: "archive/p1.json"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	put  *s3.PutObjectInput
	body string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	data, _ := io.ReadAll(in.Body)
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestPutUsesPrefixAndEncryption(t *testing.T) {
	fake := &fakeS3{}
	store := &Store{client: fake, bucket: "b", prefix: "archive"}

	n, err := store.Put(context.Background(), "processes/p1/output.json", "application/json", strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len(`{"ok":true}`)) {
		t.Fatalf("unexpected size %d", n)
	}
	if aws.ToString(fake.put.Key) != "archive/processes/p1/output.json" {
		t.Fatalf("unexpected key %q", aws.ToString(fake.put.Key))
	}
	if fake.put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 encryption, got %q", fake.put.ServerSideEncryption)
	}

	rc, err := store.Open(context.Background(), "processes/p1/output.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", data)
	}
}
