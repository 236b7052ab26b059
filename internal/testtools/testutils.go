package testtools

import (
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

// Intn returns a random number in [min, max).
func Intn(t *testing.T, min, max int64) int64 {
	t.Helper()

	bigI, err := rand.Int(rand.Reader, big.NewInt(max-min))
	if err != nil {
		t.Fatal(err)
	}

	return min + bigI.Int64()
}

// RandomBytes returns between min and max-1 random bytes.
func RandomBytes(t *testing.T, min, max int64) []byte {
	t.Helper()

	numBytes := Intn(t, min, max)

	if numBytes == 0 {
		return nil
	}

	b := make([]byte, numBytes)
	_, err := rand.Read(b)
	if err != nil {
		t.Fatal(err)
	}

	return b
}

// WriteTempFile writes data to a new file in a per-test temporary
// directory and returns its path.
func WriteTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	filePath := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(filePath, data, 0o600)
	if err != nil {
		t.Fatalf("failed to write test file '%s' - %s", filePath, err)
	}

	return filePath
}
