// Package objectstore provides piper.ObjectStore backends: an in-memory
// reference implementation for tests, and an aws-sdk-go S3 implementation
// for production use.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/copperd/piper/piper"
)

// Memory is an in-memory object store, keyed by (bucket, key).
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]*memUpload
}

// NewMemory returns an empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), uploads: make(map[string]*memUpload)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

// Put seeds an object directly, for test setup.
func (m *Memory) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
}

func (m *Memory) GetObjectStream(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.objects[objectKey(bucket, key)]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("objectstore: no such object %s/%s", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) CreateMultipartUpload(_ context.Context, bucket, key, mime string) (piper.MultipartUpload, error) {
	return &memUpload{store: m, bucket: bucket, key: key, mime: mime, parts: make(map[int][]byte)}, nil
}

type memUpload struct {
	store         *Memory
	bucket, key   string
	mime          string
	mu            sync.Mutex
	parts         map[int][]byte
	nCompleted    int
	cancelled     bool
}

func (u *memUpload) UploadPart(_ context.Context, data []byte, partIndex1Based int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled {
		return fmt.Errorf("objectstore: upload already cancelled")
	}
	u.parts[partIndex1Based] = append([]byte(nil), data...)
	u.nCompleted++
	return nil
}

func (u *memUpload) Finish(_ context.Context) (string, string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var buf bytes.Buffer
	for i := 1; i <= len(u.parts); i++ {
		part, ok := u.parts[i]
		if !ok {
			return "", "", fmt.Errorf("objectstore: part %d missing, upload has gaps", i)
		}
		buf.Write(part)
	}

	u.store.mu.Lock()
	u.store.objects[objectKey(u.bucket, u.key)] = buf.Bytes()
	u.store.mu.Unlock()

	return u.bucket, u.key, nil
}

func (u *memUpload) Cancel(_ context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true
	u.parts = nil
	return nil
}

func (u *memUpload) NCompletedParts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.nCompleted
}
