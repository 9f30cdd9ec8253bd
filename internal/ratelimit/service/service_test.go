package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tradegate/internal/ratelimit/models"
	"tradegate/internal/ratelimit/service"
	memorystore "tradegate/internal/ratelimit/store/memory"
	"tradegate/pkg/domainerrors"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/requestcontext"
)

// capturingPublisher records emitted events for assertions.
type capturingPublisher struct {
	events []audit.Event
}

func (p *capturingPublisher) Emit(_ context.Context, event audit.Event) error {
	p.events = append(p.events, event)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	svc       *service.Service
	publisher *capturingPublisher
}

func (s *ServiceSuite) SetupTest() {
	s.publisher = &capturingPublisher{}
	svc, err := service.New(memorystore.New(), nil, service.WithAuditPublisher(s.publisher))
	s.Require().NoError(err)
	s.svc = svc
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) TestCheckConsumesAttempts() {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := s.svc.Check(ctx, models.ActionCredentialSubmit, "203.0.113.9")
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(5, result.Limit)
		s.Equal(4-i, result.Remaining)
	}

	result, err := s.svc.Check(ctx, models.ActionCredentialSubmit, "203.0.113.9")
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Zero(result.Remaining)
	s.GreaterOrEqual(result.RetryAfter, 1)
}

func (s *ServiceSuite) TestActionsAndIdentifiersIsolated() {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := s.svc.Check(ctx, models.ActionCredentialSubmit, "203.0.113.9")
		s.Require().NoError(err)
		s.True(result.Allowed)
	}

	// Same identifier, different action.
	result, err := s.svc.Check(ctx, models.ActionReportSubmit, "203.0.113.9")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(10, result.Limit)

	// Same action, different identifier.
	result, err = s.svc.Check(ctx, models.ActionCredentialSubmit, "198.51.100.4")
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *ServiceSuite) TestDenialEmitsAuditEvent() {
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := s.svc.Check(ctx, models.ActionCredentialSubmit, "203.0.113.9")
		s.Require().NoError(err)
	}

	s.Require().Len(s.publisher.events, 1)
	event := s.publisher.events[0]
	s.Equal(string(audit.EventRateLimitExceeded), event.Action)
	s.Equal("203.0.113.9", event.Identifier)
	s.Equal(audit.CategorySecurity, event.Category)
}

func (s *ServiceSuite) TestUnknownActionDenied() {
	_, err := s.svc.Check(context.Background(), models.Action("bulk_export"), "203.0.113.9")
	s.Require().Error(err)
	s.Equal(domainerrors.CodeConfig, domainerrors.CodeOf(err))

	s.Require().Len(s.publisher.events, 1)
	s.Equal(string(audit.EventLimitConfigMissing), s.publisher.events[0].Action)
}

func (s *ServiceSuite) TestPeekDoesNotConsume() {
	ctx := context.Background()
	_, err := s.svc.Check(ctx, models.ActionReportSubmit, "user-42")
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		result, err := s.svc.Peek(ctx, models.ActionReportSubmit, "user-42")
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(9, result.Remaining)
	}
}

func (s *ServiceSuite) TestResetClearsCounter() {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := s.svc.Check(ctx, models.ActionReportSubmit, "user-42")
		s.Require().NoError(err)
	}
	result, err := s.svc.Check(ctx, models.ActionReportSubmit, "user-42")
	s.Require().NoError(err)
	s.False(result.Allowed)

	s.Require().NoError(s.svc.Reset(ctx, models.ActionReportSubmit, "user-42"))

	result, err = s.svc.Check(ctx, models.ActionReportSubmit, "user-42")
	s.Require().NoError(err)
	s.True(result.Allowed)

	var resets int
	for _, e := range s.publisher.events {
		if e.Action == string(audit.EventLimiterReset) {
			resets++
		}
	}
	s.Equal(1, resets)
}

func (s *ServiceSuite) TestWindowResetAtBoundary() {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	start := models.WindowStart(base, time.Minute)
	ctx := requestcontext.WithTime(context.Background(), start)

	for i := 0; i < 10; i++ {
		result, err := s.svc.Check(ctx, models.ActionReportSubmit, "user-42")
		s.Require().NoError(err)
		s.True(result.Allowed)
	}
	result, err := s.svc.Check(ctx, models.ActionReportSubmit, "user-42")
	s.Require().NoError(err)
	s.False(result.Allowed)

	// One millisecond before the boundary: still denied.
	late := requestcontext.WithTime(context.Background(), start.Add(time.Minute-time.Millisecond))
	result, err = s.svc.Check(late, models.ActionReportSubmit, "user-42")
	s.Require().NoError(err)
	s.False(result.Allowed)

	// At the boundary the full allowance is available again.
	next := requestcontext.WithTime(context.Background(), start.Add(time.Minute))
	result, err = s.svc.Check(next, models.ActionReportSubmit, "user-42")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(9, result.Remaining)
}

func TestNewValidatesLimits(t *testing.T) {
	store := memorystore.New()

	cases := []struct {
		name   string
		limits map[models.Action]models.Limit
	}{
		{"unknown action", map[models.Action]models.Limit{"bulk_export": {MaxAttempts: 5, Window: time.Minute}}},
		{"zero attempts", map[models.Action]models.Limit{models.ActionReportSubmit: {MaxAttempts: 0, Window: time.Minute}}},
		{"negative window", map[models.Action]models.Limit{models.ActionReportSubmit: {MaxAttempts: 5, Window: -time.Minute}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.New(store, tc.limits)
			if err == nil {
				t.Fatal("expected construction to fail")
			}
			if domainerrors.CodeOf(err) != domainerrors.CodeConfig {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}
