package auth

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/2beens/pressauth/internal/admin"
	"github.com/2beens/pressauth/internal/notify"
	"github.com/2beens/pressauth/internal/telemetry/metrics"
	"github.com/2beens/pressauth/internal/telemetry/tracing"
	"github.com/2beens/pressauth/internal/token"
	"github.com/2beens/pressauth/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const checkTokenOK = "ok"

// Notifier gets told about every successful login. Notify must return immediately.
type Notifier interface {
	Notify(event notify.LoginEvent)
}

type tokenIssuer interface {
	Issue(subjectID string, ttl time.Duration) (*token.SessionToken, error)
}

type Service struct {
	store          admin.Store
	codec          tokenIssuer
	notifier       Notifier
	ttl            time.Duration
	metricsManager *metrics.Manager

	// HashPasswordFunc is used when the admin changes the password.
	HashPasswordFunc func(password string) (string, error)
}

func NewService(
	store admin.Store,
	codec tokenIssuer,
	notifier Notifier,
	ttl time.Duration,
	metricsManager *metrics.Manager,
) *Service {
	return &Service{
		store:            store,
		codec:            codec,
		notifier:         notifier,
		ttl:              ttl,
		metricsManager:   metricsManager,
		HashPasswordFunc: pkg.HashPassword,
	}
}

func (s *Service) GetAdminInfo(ctx context.Context) (*admin.Profile, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.getAdminInfo")
	defer span.End()

	profile, err := s.store.Get(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("get admin: %w", err)
	}

	return profile.Public(), nil
}

// PutAdminInfo applies a partial profile update, and changes the password when both
// the current and the new password are given.
func (s *Service) PutAdminInfo(ctx context.Context, update AdminUpdate) (*admin.Profile, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.putAdminInfo")
	defer span.End()

	if err := update.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}

	// the new hash is stored last, a failed profile update leaves the password as it was
	var newPasswordHash string
	if update.changesPassword() {
		hash, err := s.newPasswordHash(ctx, *update.Password, *update.NewPassword)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		newPasswordHash = hash
	}

	profileUpdate := update.profileUpdate()
	var profile *admin.Profile
	if !profileUpdate.IsEmpty() {
		updated, err := s.store.Update(ctx, profileUpdate)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("update admin: %w", err)
		}
		profile = updated
	}

	if newPasswordHash != "" {
		if err := s.store.SetPasswordHash(ctx, newPasswordHash); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("set password hash: %w", err)
		}
		log.Info("admin password changed")
	}

	if profile == nil || newPasswordHash != "" {
		return s.GetAdminInfo(ctx)
	}

	span.SetStatus(codes.Ok, "updated")
	return profile.Public(), nil
}

// newPasswordHash checks the current password and hashes the new one.
func (s *Service) newPasswordHash(ctx context.Context, current, newPassword string) (string, error) {
	ok, err := s.store.VerifyPassword(ctx, current)
	if err != nil {
		return "", fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: current password is wrong", ErrValidation)
	}

	hash, err := s.HashPasswordFunc(newPassword)
	if err != nil {
		return "", fmt.Errorf("hash new password: %w", err)
	}

	return hash, nil
}

// Login checks the password and issues a new session token. The login alert is
// handed to the notifier only after the token is issued.
func (s *Service) Login(ctx context.Context, password, clientIP string) (*token.SessionToken, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.login")
	defer span.End()

	if password == "" {
		s.countLogin(metrics.LoginResultWrongPass)
		span.SetStatus(codes.Error, "empty-password")
		return nil, ErrInvalidCredentials
	}

	ok, err := s.store.VerifyPassword(ctx, password)
	if err != nil {
		s.countLogin(metrics.LoginResultError)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.countLogin(metrics.LoginResultWrongPass)
		span.SetStatus(codes.Error, "wrong-password")
		return nil, ErrInvalidCredentials
	}

	sessionToken, err := s.codec.Issue(strconv.Itoa(admin.ID), s.ttl)
	if err != nil {
		s.countLogin(metrics.LoginResultError)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.countLogin(metrics.LoginResultSuccess)
	s.notifyLogin(notify.LoginEvent{
		ClientIP:  clientIP,
		Timestamp: sessionToken.IssuedAt,
	})

	span.SetStatus(codes.Ok, "logged-in")
	return sessionToken, nil
}

// CheckToken is only reachable with a valid token, so there is nothing left to check.
func (s *Service) CheckToken() string {
	return checkTokenOK
}

func (s *Service) notifyLogin(event notify.LoginEvent) {
	if s.notifier == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("login notifier panic: %v\n%s", r, debug.Stack())
		}
	}()

	s.notifier.Notify(event)
}

func (s *Service) countLogin(result string) {
	if s.metricsManager != nil {
		s.metricsManager.CounterLogins.WithLabelValues(result).Inc()
	}
}
