package territory

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryStatus_Counts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count", "count"}).AddRow(10, 7))
	mock.ExpectQuery("SELECT class_code, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"class_code", "count"}).
			AddRow("M1", 393).
			AddRow("M2", 542))

	st, err := QueryStatus(context.Background(), mock, 0)
	require.NoError(t, err)

	assert.Equal(t, 10, st.TotalStores)
	assert.Equal(t, 7, st.AssignedStores)
	assert.Equal(t, 3, st.UnassignedStores)
	assert.Equal(t, 935, st.TotalBoundaries)
	assert.Equal(t, 393, st.ByClass[ClassMetropolitan])
	assert.Equal(t, 542, st.ByClass[ClassMicropolitan])
	assert.Empty(t, st.TopBoundaries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryStatus_TopBoundaries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count", "count"}).AddRow(3, 3))
	mock.ExpectQuery("SELECT class_code, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"class_code", "count"}).AddRow("M1", 2))
	mock.ExpectQuery("SELECT b.code, b.name").
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"code", "name", "store_count"}).
			AddRow("35620", "New York-Newark-Jersey City, NY-NJ", 2).
			AddRow("31080", "Los Angeles-Long Beach-Anaheim, CA", 1))

	st, err := QueryStatus(context.Background(), mock, 5)
	require.NoError(t, err)
	require.Len(t, st.TopBoundaries, 2)
	assert.Equal(t, "35620", st.TopBoundaries[0].Code)
	assert.Equal(t, 2, st.TopBoundaries[0].StoreCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryStatus_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count", "count"}).AddRow(0, 0))
	mock.ExpectQuery("SELECT class_code, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"class_code", "count"}))

	st, err := QueryStatus(context.Background(), mock, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalStores)
	assert.Equal(t, 0, st.TotalBoundaries)
	assert.NotNil(t, st.ByClass)
}

func TestQueryStatus_StoreCountError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("relation does not exist"))

	_, err = QueryStatus(context.Background(), mock, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count stores")
}
