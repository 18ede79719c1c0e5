package testutil

import (
	"testing"
)

// VerifyObjectInS3 checks that key exists in the test bucket and returns its content
func VerifyObjectInS3(t *testing.T, env *TestEnvironment, key string) []byte {
	t.Helper()

	content, err := env.Storage.Download(env.Ctx, key)
	if err != nil {
		t.Fatalf("failed to download object from S3: %v", err)
	}

	return content
}
