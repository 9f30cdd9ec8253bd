package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tradegate/internal/identity/mocks"
	"tradegate/internal/identity/models"
	"tradegate/internal/identity/ports"
	"tradegate/internal/session"
	"tradegate/pkg/domainerrors"
	"tradegate/pkg/platform/retry"
)

type ResolverSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	accounts *mocks.MockAccountStore
	resolver *session.Resolver
}

func (s *ResolverSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.accounts = mocks.NewMockAccountStore(s.ctrl)
	s.resolver = session.New(s.provider, s.accounts,
		session.WithRetryConfig(retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Factor:       2,
		}),
	)
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) TestEmptyCredentialIsAnonymous() {
	res, err := s.resolver.Resolve(context.Background(), "")
	s.Require().NoError(err)
	s.False(res.Authenticated())
	s.Nil(res.Account)
}

func (s *ResolverSuite) TestRejectedCredentialIsAnonymous() {
	s.provider.EXPECT().
		Verify(gomock.Any(), "bad-token").
		Return(nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token"))

	res, err := s.resolver.Resolve(context.Background(), "bad-token")
	s.Require().NoError(err)
	s.False(res.Authenticated())
}

func (s *ResolverSuite) TestResolvesIdentityAndAccount() {
	claim := &models.Claim{SubjectID: "subj-1", Email: "jordan@example.com"}
	projection := &models.AccountProjection{SubjectID: "subj-1", Role: models.RoleUser, Status: models.StatusActive}

	s.provider.EXPECT().Verify(gomock.Any(), "token").Return(claim, nil)
	s.accounts.EXPECT().Get(gomock.Any(), "subj-1").Return(projection, nil)

	res, err := s.resolver.Resolve(context.Background(), "token")
	s.Require().NoError(err)
	s.True(res.Authenticated())
	s.Equal(claim, res.Identity)
	s.Equal(projection, res.Account)
}

func (s *ResolverSuite) TestMissingProjectionStillResolves() {
	claim := &models.Claim{SubjectID: "subj-1"}
	s.provider.EXPECT().Verify(gomock.Any(), "token").Return(claim, nil)
	s.accounts.EXPECT().Get(gomock.Any(), "subj-1").Return(nil, ports.ErrNotFound)

	res, err := s.resolver.Resolve(context.Background(), "token")
	s.Require().NoError(err)
	s.True(res.Authenticated())
	s.Nil(res.Account)
}

func (s *ResolverSuite) TestUnreachableProjectionStoreStillResolves() {
	claim := &models.Claim{SubjectID: "subj-1"}
	s.provider.EXPECT().Verify(gomock.Any(), "token").Return(claim, nil)
	s.accounts.EXPECT().Get(gomock.Any(), "subj-1").Return(nil, errors.New("connection refused"))

	res, err := s.resolver.Resolve(context.Background(), "token")
	s.Require().NoError(err)
	s.True(res.Authenticated())
	s.Nil(res.Account)
}

func (s *ResolverSuite) TestTransientProviderFailureRetriedThenResolved() {
	claim := &models.Claim{SubjectID: "subj-1"}
	gomock.InOrder(
		s.provider.EXPECT().Verify(gomock.Any(), "token").Return(nil, errors.New("timeout")),
		s.provider.EXPECT().Verify(gomock.Any(), "token").Return(claim, nil),
	)
	s.accounts.EXPECT().Get(gomock.Any(), "subj-1").Return(nil, ports.ErrNotFound)

	res, err := s.resolver.Resolve(context.Background(), "token")
	s.Require().NoError(err)
	s.True(res.Authenticated())
}

func (s *ResolverSuite) TestRetryExhaustionSurfacesUnavailable() {
	s.provider.EXPECT().
		Verify(gomock.Any(), "token").
		Return(nil, errors.New("timeout")).
		Times(3)

	_, err := s.resolver.Resolve(context.Background(), "token")
	s.Require().Error(err)
	s.Equal(domainerrors.CodeUnavailable, domainerrors.CodeOf(err))
}

func (s *ResolverSuite) TestRejectedCredentialNotRetried() {
	s.provider.EXPECT().
		Verify(gomock.Any(), "bad-token").
		Return(nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token")).
		Times(1)

	_, err := s.resolver.Resolve(context.Background(), "bad-token")
	s.Require().NoError(err)
}
