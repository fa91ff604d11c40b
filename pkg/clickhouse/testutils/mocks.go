// Package testutils provides testify mocks of the ClickHouse driver so
// repositories can be tested without a server.
package testutils

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

// MockConn is a mock implementation of driver.Conn.
type MockConn struct {
	mock.Mock
}

var _ driver.Conn = (*MockConn)(nil)

func (m *MockConn) Contributors() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockConn) ServerVersion() (*driver.ServerVersion, error) {
	args := m.Called()
	v, _ := args.Get(0).(*driver.ServerVersion)
	return v, args.Error(1)
}

func (m *MockConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	callArgs := append([]any{ctx, query}, args...)
	return m.Called(callArgs...).Error(0)
}

func (m *MockConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	callArgs := append([]any{ctx, query}, args...)
	res := m.Called(callArgs...)
	rows, _ := res.Get(0).(driver.Rows)
	return rows, res.Error(1)
}

func (m *MockConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	callArgs := append([]any{ctx, query}, args...)
	row, _ := m.Called(callArgs...).Get(0).(driver.Row)
	return row
}

func (m *MockConn) Exec(ctx context.Context, query string, args ...any) error {
	callArgs := append([]any{ctx, query}, args...)
	return m.Called(callArgs...).Error(0)
}

func (m *MockConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error {
	callArgs := append([]any{ctx, query, wait}, args...)
	return m.Called(callArgs...).Error(0)
}

func (m *MockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	callArgs := []any{ctx, query}
	for _, opt := range opts {
		callArgs = append(callArgs, opt)
	}
	res := m.Called(callArgs...)
	batch, _ := res.Get(0).(driver.Batch)
	return batch, res.Error(1)
}

func (m *MockConn) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConn) Stats() driver.Stats {
	stats, _ := m.Called().Get(0).(driver.Stats)
	return stats
}

func (m *MockConn) Close() error {
	return m.Called().Error(0)
}

// MockBatch is a mock implementation of driver.Batch.
type MockBatch struct {
	mock.Mock
}

var _ driver.Batch = (*MockBatch)(nil)

func (b *MockBatch) Abort() error {
	return b.Called().Error(0)
}

func (b *MockBatch) Append(v ...any) error {
	return b.Called(v...).Error(0)
}

func (b *MockBatch) AppendStruct(v any) error {
	return b.Called(v).Error(0)
}

func (b *MockBatch) Column(i int) driver.BatchColumn {
	col, _ := b.Called(i).Get(0).(driver.BatchColumn)
	return col
}

func (b *MockBatch) Flush() error {
	return b.Called().Error(0)
}

func (b *MockBatch) Send() error {
	return b.Called().Error(0)
}

func (b *MockBatch) IsSent() bool {
	return b.Called().Bool(0)
}

func (b *MockBatch) Rows() int {
	return b.Called().Int(0)
}

func (b *MockBatch) Columns() []column.Interface {
	cols, _ := b.Called().Get(0).([]column.Interface)
	return cols
}

func (b *MockBatch) Close() error {
	return b.Called().Error(0)
}
