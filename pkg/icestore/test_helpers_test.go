package icestore_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-commitflow/pkg/icestore"
)

// mockGCSWriter writes to an in-memory buffer.
type mockGCSWriter struct {
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	if m.closed {
		return 0, errors.New("write on closed writer")
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
	writer   *mockGCSWriter
	attrs    icestore.WriterAttrs
	closeErr error
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, attrs icestore.WriterAttrs) icestore.GCSWriter {
	m.attrs = attrs
	m.writer = &mockGCSWriter{closeErr: m.closeErr}
	return m.writer
}

// mockGCSBucketHandle stores created objects by name.
type mockGCSBucketHandle struct {
	mu       sync.Mutex
	name     string
	objects  map[string]*mockGCSObjectHandle
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) icestore.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{closeErr: m.closeErr}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	mu      sync.Mutex
	buckets map[string]*mockGCSBucketHandle
	failing bool
}

func newMockGCSClient(failing bool) *mockGCSClient {
	return &mockGCSClient{buckets: make(map[string]*mockGCSBucketHandle), failing: failing}
}

func (m *mockGCSClient) Bucket(name string) icestore.GCSBucketHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		b := &mockGCSBucketHandle{name: name}
		if m.failing {
			b.closeErr = errors.New("upload rejected")
		}
		m.buckets[name] = b
	}
	return m.buckets[name]
}
