package objectstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/thumbflow/pkg/apperr"
)

func TestIsS3NotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"wrapped no such key", fmt.Errorf("get object: %w", &types.NoSuchKey{}), true},
		{"head not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"api no such key code", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("dial tcp: connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isS3NotFound(tc.err))
		})
	}
}

func TestMinioClassify(t *testing.T) {
	m := &minioClient{}
	cases := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, true},
		{"not found", minio.ErrorResponse{Code: "NotFound", StatusCode: 404}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, false},
		{"plain error", errors.New("connection reset by peer"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.classify("img.png", tc.err)
			assert.Equal(t, tc.notFound, apperr.IsNotFound(err))
			assert.Equal(t, !tc.notFound, apperr.IsTransient(err))
			assert.Contains(t, err.Error(), tc.err.Error())
		})
	}
}
