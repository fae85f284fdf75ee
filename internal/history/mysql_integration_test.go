//go:build integration

package history

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/agrisol/cropdoctor/internal/conf"
)

// TestMySQLStore runs the store against a disposable MySQL container.
func TestMySQLStore(t *testing.T) {
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("cropdoctor"),
		tcmysql.WithUsername("cropdoctor"),
		tcmysql.WithPassword("cropdoctor"),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	settings := conf.HistorySettings{
		Enabled: true,
		Driver:  "mysql",
		MySQL: conf.MySQLSettings{
			Host:     host,
			Port:     portNum,
			Username: "cropdoctor",
			Password: "cropdoctor",
			Database: "cropdoctor",
		},
	}
	store, err := Open(&settings, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	seed(t, NewSink(store))

	recent, err := store.Recent(ctx, Query{Crop: "beans"})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Bean Rust", recent[0].Disease)
	assert.WithinDuration(t, time.Date(2024, 6, 1, 8, 3, 0, 0, time.UTC), recent[0].CreatedAt, time.Second)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, Count{Name: "tomatoes", Count: 3}, stats.ByCrop[0])
}
