package services

import (
	"context"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/channel"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type UserService interface {
	// Resolve returns the user behind a platform sender id, creating it on
	// first sight. created is true for a new user.
	Resolve(ctx context.Context, externalID string) (u *models.User, created bool, err error)
	// Enrich fetches username, follow status and follower count in
	// parallel. Lookups that fail or time out are skipped.
	Enrich(ctx context.Context, u *models.User)
}

type userService struct {
	users   pgrepo.UserRepository
	client  channel.UserClient
	timeout time.Duration
	log     *logrus.Logger
}

func NewUserService(users pgrepo.UserRepository, client channel.UserClient, timeout time.Duration, log *logrus.Logger) UserService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &userService{users: users, client: client, timeout: timeout, log: log}
}

func (s *userService) Resolve(ctx context.Context, externalID string) (*models.User, bool, error) {
	const op = "UserService.Resolve"

	if externalID == "" {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "external_id is required", nil)
	}

	u, created, err := s.users.GetOrCreate(ctx, externalID)
	if err != nil {
		return nil, false, utils.E(utils.CodeInternal, op, "failed to load user", err)
	}
	return u, created, nil
}

func (s *userService) Enrich(ctx context.Context, u *models.User) {
	if s.client == nil || u == nil {
		return
	}
	if u.Username != "" && u.FollowStatus != "" && u.FollowerCount != nil {
		return
	}

	var e pgrepo.Enrichment
	log := s.log.WithField("user_id", u.ID)
	g, gctx := errgroup.WithContext(ctx)

	lookup := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				log.WithError(err).WithField("lookup", name).Warn("user enrichment failed")
			}
			return nil
		})
	}
	if u.Username == "" {
		lookup("username", func(c context.Context) (err error) {
			e.Username, err = s.client.Username(c, u.ExternalID)
			return err
		})
	}
	if u.FollowStatus == "" {
		lookup("follow_status", func(c context.Context) (err error) {
			e.FollowStatus, err = s.client.FollowStatus(c, u.ExternalID)
			return err
		})
	}
	if u.FollowerCount == nil {
		lookup("follower_count", func(c context.Context) (err error) {
			e.FollowerCount, err = s.client.FollowerCount(c, u.ExternalID)
			return err
		})
	}
	_ = g.Wait()

	if e.Username == nil && e.FollowStatus == nil && e.FollowerCount == nil {
		return
	}
	if err := s.users.UpdateEnrichment(ctx, u.ID, e); err != nil {
		log.WithError(err).Warn("failed to store user enrichment")
		return
	}
	if e.Username != nil {
		u.Username = *e.Username
	}
	if e.FollowStatus != nil {
		u.FollowStatus = *e.FollowStatus
	}
	if e.FollowerCount != nil {
		u.FollowerCount = e.FollowerCount
	}
}
