package icestore

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// --- Mock GCS Client Components ---

// mockGCSWriter writes to an in-memory buffer.
type mockGCSWriter struct {
	buf      bytes.Buffer
	closed   bool
	closeErr error
	writeErr error
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

type mockGCSObjectHandle struct {
	writer *mockGCSWriter
}

func (m *mockGCSObjectHandle) NewWriter(ctx context.Context) GCSWriter {
	return m.writer
}

// mockGCSBucketHandle stores created objects in a map.
type mockGCSBucketHandle struct {
	sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	closeErr error
	writeErr error
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{writer: &mockGCSWriter{closeErr: m.closeErr, writeErr: m.writeErr}}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	bucket     *mockGCSBucketHandle
	bucketName string
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	m.bucketName = name
	return m.bucket
}
