package storage

import "context"

// MockedStorage is the history sink used in tests and when history is
// disabled by configuration.
type MockedStorage struct{}

func (MockedStorage) SaveExecution(_ context.Context, _ Execution) error {
	return nil
}

func (MockedStorage) GetExecution(_ context.Context, _ string) (Execution, error) {
	return Execution{}, nil
}

func (MockedStorage) GetExecutions(_ context.Context, _ string, _ int) ([]Execution, error) {
	return nil, nil
}

func (MockedStorage) Close() error {
	return nil
}
