package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"obrador/internal/types"
)

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewOrderRepository(dbx)

	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"ord_missing", "biz_1"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	order, err := repo.GetByID(context.Background(), "ord_missing", "biz_1")
	require.Error(t, err)
	assert.Nil(t, order)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundOrder, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus())
}

func TestOrderRepository_CountForMonth_UsesCalendarMonthBounds(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewOrderRepository(dbx)

	ref := time.Date(2026, time.March, 15, 17, 42, 0, 0, time.UTC)
	wantStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int) = 7
			return nil
		},
	}
	dbx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"biz_1", wantStart, wantEnd}).
		Return(row)

	count, err := repo.CountForMonth(context.Background(), "biz_1", ref)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	dbx.AssertExpectations(t)
}

func TestOrderRepository_Update_NotFound(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewOrderRepository(dbx)

	dbx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), &types.Order{
		ID:         "ord_missing",
		BusinessID: "biz_1",
		CustomerID: "cust_1",
		Status:     types.OrderPending,
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundOrder, appErr.Code)
}

func TestOrderRepository_Delete_Success(t *testing.T) {
	dbx := new(mockDBTX)
	repo := NewOrderRepository(dbx)

	dbx.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"ord_1", "biz_1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := repo.Delete(context.Background(), "ord_1", "biz_1")
	require.NoError(t, err)
	dbx.AssertExpectations(t)
}
