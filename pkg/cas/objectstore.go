package cas

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore is the optional large-blob tier. Blobs below the
// threshold are declined so the relational tier keeps serving small
// reads without an extra round trip.
type ObjectStore struct {
	client       *s3.Client
	bucket       string
	prefix       string
	minBlobBytes int
}

// NewObjectStore builds the tier from ambient AWS configuration.
func NewObjectStore(ctx context.Context, bucket, prefix string, minBlobBytes int) (*ObjectStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return &ObjectStore{
		client:       s3.NewFromConfig(cfg),
		bucket:       bucket,
		prefix:       prefix,
		minBlobBytes: minBlobBytes,
	}, nil
}

// Put implements Store. Small blobs are accepted silently without a
// write: the tier above already persists them.
func (o *ObjectStore) Put(ctx context.Context, hash Hash, value []byte) error {
	if len(value) < o.minBlobBytes {
		return nil
	}

	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(hash)),
		Body:   bytes.NewReader(value),
	})

	return err
}

// Get implements Store.
func (o *ObjectStore) Get(ctx context.Context, hash Hash) ([]byte, bool, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(hash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}

		return nil, false, err
	}

	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

func (o *ObjectStore) key(hash Hash) string {
	return o.prefix + "/" + hash.String()
}
