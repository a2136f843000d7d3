package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) RunCollection(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockPipeline) RunMonitor(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockPipeline) GetMetrics() string {
	return m.Called().String(0)
}

func TestRouter(t *testing.T) {
	p := &MockPipeline{}
	p.On("GetMetrics").Return(`{"total_posts": 3}`)
	ran := make(chan struct{})
	p.On("RunMonitor").Run(func(mock.Arguments) { close(ran) }).Return(nil).Once()
	router := newRouter(p)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{name: "Health", method: "GET", path: "/health", status: http.StatusOK, body: `"status":"healthy"`},
		{name: "Run metrics", method: "GET", path: "/metrics", status: http.StatusOK, body: `"total_posts": 3`},
		{name: "Prometheus metrics", method: "GET", path: "/metrics/prometheus", status: http.StatusOK, body: "go_goroutines"},
		{name: "Trigger monitor", method: "POST", path: "/trigger/monitor", status: http.StatusAccepted, body: "monitor run triggered"},
		{name: "Trigger needs POST", method: "GET", path: "/trigger", status: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("monitor run was not triggered")
	}
}
