package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserResolve(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newFakeUsers(), nil, time.Second, logger.Discard())

	u, created, err := svc.Resolve(ctx, "ig-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.Resolve(ctx, "ig-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)

	_, _, err = svc.Resolve(ctx, "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestUserEnrich(t *testing.T) {
	ctx := context.Background()

	t.Run("partial failure keeps the rest", func(t *testing.T) {
		users := newFakeUsers()
		u := users.add(&models.User{ExternalID: "ig-1"})
		client := &fakeUserClient{username: strPtr("shop_fan"), followers: i64(120), err: errors.New("gateway down")}
		svc := NewUserService(users, client, time.Second, logger.Discard())

		svc.Enrich(ctx, u)
		assert.Equal(t, "shop_fan", u.Username)
		require.NotNil(t, u.FollowerCount)
		assert.Equal(t, int64(120), *u.FollowerCount)
		assert.Empty(t, u.FollowStatus)

		stored, err := users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "shop_fan", stored.Username)
	})

	t.Run("lookups bounded by timeout", func(t *testing.T) {
		users := newFakeUsers()
		u := users.add(&models.User{ExternalID: "ig-2"})
		client := &fakeUserClient{username: strPtr("late"), delay: time.Second}
		svc := NewUserService(users, client, 20*time.Millisecond, logger.Discard())

		start := time.Now()
		svc.Enrich(ctx, u)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.Empty(t, u.Username)
	})

	t.Run("complete profile skips lookups", func(t *testing.T) {
		users := newFakeUsers()
		u := users.add(&models.User{ExternalID: "ig-3", Username: "known", FollowStatus: "is_follower=true", FollowerCount: i64(5)})
		svc := NewUserService(users, &fakeUserClient{username: strPtr("other")}, time.Second, logger.Discard())

		svc.Enrich(ctx, u)
		assert.Equal(t, "known", u.Username)
	})
}
