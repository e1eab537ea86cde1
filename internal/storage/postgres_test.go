package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/koopa0/system-design/short-link/internal/storage"
	"github.com/koopa0/system-design/short-link/internal/testutils"
	"github.com/koopa0/system-design/short-link/pkg/snowflake"
)

func TestPostgresStore(t *testing.T) {
	env := testutils.SetupPostgres(t)
	ids, err := snowflake.NewGenerator(2)
	require.NoError(t, err)

	testStore(t, func(t *testing.T) link.Store {
		env.TruncateTables(t)
		return storage.NewPostgres(env.PostgresPool, ids)
	})
}

func TestPostgresMoveGroupKeepsHistory(t *testing.T) {
	env := testutils.SetupPostgres(t)
	ctx := context.Background()
	ids, err := snowflake.NewGenerator(3)
	require.NoError(t, err)
	s := storage.NewPostgres(env.PostgresPool, ids)

	now := time.Now().UTC()
	fromID, _ := ids.Next()
	from := &link.ShortLink{
		ID: fromID, GID: "g1", Domain: "s.example", ShortURI: "hist01",
		FullShortURL: "s.example/hist01", OriginURL: "https://example.com",
		Enabled: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateLink(ctx, from))

	to := *from
	to.ID, _ = ids.Next()
	to.GID = "g2"
	require.NoError(t, s.MoveGroup(ctx, from, &to))

	var deleted, active int
	err = env.PostgresPool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE del_flag = 1), COUNT(*) FILTER (WHERE del_flag = 0)
		 FROM short_link WHERE full_short_url = $1`, from.FullShortURL,
	).Scan(&deleted, &active)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "舊資料列應軟刪除保留")
	assert.Equal(t, 1, active)

	var delTime *time.Time
	err = env.PostgresPool.QueryRow(ctx,
		`SELECT del_time FROM short_link WHERE id = $1`, from.ID).Scan(&delTime)
	require.NoError(t, err)
	assert.NotNil(t, delTime)
}
