package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// fakeAPI serves objects from memory, paging listings two keys at a time.
type fakeAPI struct {
	objects map[string][]byte
	keys    []string
}

func newFakeAPI(objs map[string]string, order ...string) *fakeAPI {
	f := &fakeAPI{objects: map[string][]byte{}, keys: order}
	for k, v := range objs {
		f.objects[k] = []byte(v)
	}
	return f
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range f.keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}

	var matched []string
	for _, k := range f.keys[start:] {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			matched = append(matched, k)
		}
	}

	out := &s3.ListObjectsV2Output{}
	for i, k := range matched {
		if i == 2 {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(k)
			break
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: aws.Int64(int64(len(b))),
	}, nil
}

func newTestClient(api API) *Client {
	c := NewWithAPI(api, "chime-archive")
	l := logrus.New()
	l.SetOutput(io.Discard)
	c.SetLogger(l)
	return c
}

func TestListObjects(t *testing.T) {
	api := newFakeAPI(map[string]string{
		"archive/20190304T175519Z_stone_corr/":                 "",
		"archive/20190304T175519Z_stone_corr/00000000_0000.h5": "a",
		"archive/20190304T175519Z_stone_corr/00000000_0001.h5": "bb",
		"archive/20190304T175519Z_stone_corr/ch_master.log":    "ccc",
		"other/file": "x",
	},
		"archive/20190304T175519Z_stone_corr/",
		"archive/20190304T175519Z_stone_corr/00000000_0000.h5",
		"archive/20190304T175519Z_stone_corr/00000000_0001.h5",
		"archive/20190304T175519Z_stone_corr/ch_master.log",
		"other/file",
	)

	objs, err := newTestClient(api).ListObjects(context.Background(), "archive/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("got %d objects, want 3: %+v", len(objs), objs)
	}
	if objs[2].AcqName != "20190304T175519Z_stone_corr" || objs[2].FileName != "ch_master.log" || objs[2].Size != 3 {
		t.Errorf("object = %+v", objs[2])
	}
}

func TestMD5Object(t *testing.T) {
	api := newFakeAPI(map[string]string{"a/b/abc": "abc"}, "a/b/abc")
	client := newTestClient(api)

	var calls int
	var lastKey string
	client.SetProgressFunc(func(key string, read, total int64, elapsed time.Duration) {
		calls++
		lastKey = key
	})

	sum, n, err := client.MD5Object(context.Background(), "a/b/abc")
	if err != nil {
		t.Fatalf("MD5Object: %v", err)
	}
	if sum != "900150983cd24fb0d6963f7d28e17f72" || n != 3 {
		t.Errorf("got %s/%d", sum, n)
	}
	if calls == 0 || lastKey != "a/b/abc" {
		t.Errorf("progress callback: calls=%d key=%q", calls, lastKey)
	}

	var nsk *types.NoSuchKey
	if _, _, err := client.MD5Object(context.Background(), "a/b/missing"); !errors.As(err, &nsk) {
		t.Errorf("err = %v, want NoSuchKey", err)
	}
}

func TestObjectExists(t *testing.T) {
	api := newFakeAPI(map[string]string{"a/b/c": "x"}, "a/b/c")
	client := newTestClient(api)

	ok, err := client.ObjectExists(context.Background(), "a/b/c")
	if err != nil || !ok {
		t.Errorf("existing: ok=%v err=%v", ok, err)
	}
	ok, err = client.ObjectExists(context.Background(), "a/b/d")
	if err != nil || ok {
		t.Errorf("missing: ok=%v err=%v", ok, err)
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		root           string
		bucket, prefix string
		ok             bool
	}{
		{"s3://chime-archive/archive/", "chime-archive", "archive", true},
		{"s3://chime-archive", "chime-archive", "", true},
		{"s3:///archive", "", "", false},
		{"/mnt/gong/archive", "", "", false},
	}
	for _, tt := range tests {
		bucket, prefix, ok := ParseURL(tt.root)
		if bucket != tt.bucket || prefix != tt.prefix || ok != tt.ok {
			t.Errorf("ParseURL(%q) = %q, %q, %v", tt.root, bucket, prefix, ok)
		}
	}
}

func TestNodeStore(t *testing.T) {
	const key = "archive/20190304T175519Z_stone_corr/00000000_0000.h5"
	api := newFakeAPI(map[string]string{key: "abc"}, key)
	store := newTestClient(api).NodeStore("/archive/")
	ctx := context.Background()

	ok, err := store.Exists(ctx, "20190304T175519Z_stone_corr/00000000_0000.h5")
	if err != nil || !ok {
		t.Errorf("Exists: ok=%v err=%v", ok, err)
	}
	ok, err = store.Exists(ctx, "20190304T175519Z_stone_corr/00000000_0001.h5")
	if err != nil || ok {
		t.Errorf("Exists missing: ok=%v err=%v", ok, err)
	}
	sum, err := store.MD5(ctx, "20190304T175519Z_stone_corr/00000000_0000.h5")
	if err != nil || sum != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("MD5 = %q, %v", sum, err)
	}
}

func TestValidateS3Key(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"archive/acq/file.h5", false},
		{"", true},
		{"/abs/key", true},
		{"a/../b", true},
		{"../b", true},
		{"acq/a..b.h5", false},
		{"acq/..hidden", false},
		{"a\x00b", true},
		{strings.Repeat("k", 1025), true},
	}
	for _, tt := range tests {
		if err := validateS3Key(tt.key); (err != nil) != tt.wantErr {
			t.Errorf("validateS3Key(%q) err = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	tests := map[int64]string{
		12:      "12 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range tests {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
