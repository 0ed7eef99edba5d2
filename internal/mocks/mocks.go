// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// -- Inference Mock --

// MockInferenceClient mocks the schemas.InferenceClient interface.
type MockInferenceClient struct {
	mock.Mock
}

var _ schemas.InferenceClient = (*MockInferenceClient)(nil)

// Generate provides a mock function for inference calls.
func (m *MockInferenceClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockInferenceClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Sandbox Mocks --

// MockCapturer mocks the schemas.Capturer interface.
type MockCapturer struct {
	mock.Mock
}

var _ schemas.Capturer = (*MockCapturer)(nil)

func (m *MockCapturer) Capture(ctx context.Context) (*schemas.Frame, error) {
	args := m.Called(ctx)
	var f *schemas.Frame
	if v := args.Get(0); v != nil {
		f = v.(*schemas.Frame)
	}
	return f, args.Error(1)
}

// MockExecutor mocks the schemas.Executor interface.
type MockExecutor struct {
	mock.Mock
}

var _ schemas.Executor = (*MockExecutor)(nil)

func (m *MockExecutor) Execute(ctx context.Context, action schemas.Action, target schemas.Resolution) error {
	args := m.Called(ctx, action, target)
	return args.Error(0)
}

// MockSandbox mocks the schemas.Sandbox interface.
type MockSandbox struct {
	mock.Mock
}

var _ schemas.Sandbox = (*MockSandbox)(nil)

func (m *MockSandbox) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

func (m *MockSandbox) Execute(ctx context.Context, action schemas.Action, target schemas.Resolution) error {
	args := m.Called(ctx, action, target)
	return args.Error(0)
}

func (m *MockSandbox) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Planner Mocks --

// MockRecoveryPlanner mocks the schemas.RecoveryPlanner interface.
type MockRecoveryPlanner struct {
	mock.Mock
}

var _ schemas.RecoveryPlanner = (*MockRecoveryPlanner)(nil)

func (m *MockRecoveryPlanner) Recover(ctx context.Context, req schemas.RecoveryRequest) (schemas.Action, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.Action), args.Error(1)
}

// MockTaskPlanner mocks the schemas.TaskPlanner interface.
type MockTaskPlanner struct {
	mock.Mock
}

var _ schemas.TaskPlanner = (*MockTaskPlanner)(nil)

func (m *MockTaskPlanner) Plan(ctx context.Context, objective string) ([]string, error) {
	args := m.Called(ctx, objective)
	var steps []string
	if v := args.Get(0); v != nil {
		steps = v.([]string)
	}
	return steps, args.Error(1)
}

// -- Export Mock --

// MockStepExporter mocks the schemas.StepExporter interface.
type MockStepExporter struct {
	mock.Mock
}

var _ schemas.StepExporter = (*MockStepExporter)(nil)

func (m *MockStepExporter) ExportStep(ctx context.Context, rec schemas.StepRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStepExporter) ExportSummary(ctx context.Context, sum schemas.RunSummary) error {
	args := m.Called(ctx, sum)
	return args.Error(0)
}

func (m *MockStepExporter) Close() error {
	args := m.Called()
	return args.Error(0)
}
