package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"hospital/models"
	"hospital/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Hasher is a salted one-way password hash.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

type BcryptHasher struct {
	Cost int
}

func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return utils.HashPassword(password, cost)
}

func (b BcryptHasher) Verify(hash, password string) bool {
	return utils.CheckPasswordHash(password, hash)
}

// Limiter throttles attempts per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Limiters holds one budget per throttled operation.
type Limiters struct {
	Login  Limiter
	Resend Limiter
}

type Options struct {
	BaseURL        string
	VerifyTokenTTL time.Duration
	MailTimeout    time.Duration
	UpgradeTimeout time.Duration
}

type Service struct {
	store    utils.CredentialStore
	hasher   Hasher
	limiters Limiters
	mailer   utils.Mailer
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	// compared against when the username is unknown so both paths cost one hash check
	dummyHash string
	upgrades  sync.WaitGroup
}

func NewService(store utils.CredentialStore, hasher Hasher, limiters Limiters, mailer utils.Mailer, opts Options, log *zap.Logger) (*Service, error) {
	if limiters.Login == nil || limiters.Resend == nil {
		return nil, errors.New("auth: login and resend limiters are required")
	}
	if opts.MailTimeout == 0 {
		opts.MailTimeout = 10 * time.Second
	}
	if opts.UpgradeTimeout == 0 {
		opts.UpgradeTimeout = 5 * time.Second
	}
	if opts.VerifyTokenTTL == 0 {
		opts.VerifyTokenTTL = 48 * time.Hour
	}

	seed, err := utils.GenerateToken(16)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		store:     store,
		hasher:    hasher,
		limiters:  limiters,
		mailer:    mailer,
		opts:      opts,
		log:       log,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

type LoginInput struct {
	Username  string
	Password  string
	ClientKey string
}

// Login authenticates a username and password. Unknown users and wrong passwords both
// yield ErrInvalidCredentials. The caller decides what an unverified account may do.
func (s *Service) Login(ctx context.Context, in LoginInput) (*models.User, error) {
	if err := s.allow(ctx, s.limiters.Login, "login attempts", in.ClientKey); err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if in.Username == "" {
		verr.add("username", errors.New("Username is required"))
	}
	if in.Password == "" {
		verr.add("password", errors.New("Password is required"))
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	user, err := s.store.FindByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, in.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	switch user.PasswordKind {
	case models.PasswordBcrypt:
		if !s.hasher.Verify(user.Password, in.Password) {
			return nil, ErrInvalidCredentials
		}
	case models.PasswordPlaintext:
		if !utils.CheckPlaintextPassword(in.Password, user.Password) {
			return nil, ErrInvalidCredentials
		}
		s.upgradePassword(user.ID, in.Password)
	default:
		return nil, fmt.Errorf("user %d has unknown password kind %q", user.ID, user.PasswordKind)
	}

	s.log.Info("login succeeded", zap.Int64("user_id", user.ID), zap.String("email_status", string(user.EmailStatus)))
	return user, nil
}

func (s *Service) allow(ctx context.Context, l Limiter, attempts, clientKey string) error {
	allowed, retryAfter, err := l.Allow(ctx, clientKey)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		s.log.Warn("throttled", zap.String("attempts", attempts), zap.String("client", clientKey), zap.Duration("retry_after", retryAfter))
		return &RateLimitError{RetryAfter: retryAfter, Attempts: attempts}
	}
	return nil
}

// upgradePassword re-hashes a legacy plaintext password in the background. Failures
// are logged only; the login it belongs to has already succeeded.
func (s *Service) upgradePassword(userID int64, password string) {
	s.upgrades.Add(1)
	go func() {
		defer s.upgrades.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.UpgradeTimeout)
		defer cancel()

		hash, err := s.hasher.Hash(password)
		if err != nil {
			s.log.Error("password upgrade: hashing failed", zap.Int64("user_id", userID), zap.Error(err))
			return
		}
		changed, err := s.store.UpdatePassword(ctx, userID, hash)
		if err != nil {
			s.log.Error("password upgrade: store failed", zap.Int64("user_id", userID), zap.Error(err))
			return
		}
		if changed {
			s.log.Info("legacy password upgraded to bcrypt", zap.Int64("user_id", userID))
		}
	}()
}

// Wait blocks until background password upgrades have finished.
func (s *Service) Wait() {
	s.upgrades.Wait()
}

type SignupInput struct {
	Username string
	Password string
	Email    string
}

type SignupResult struct {
	User *models.User
	// DeliveryErr is set when the account was created but the verification email
	// could not be sent.
	DeliveryErr error
}

// Signup registers an unverified account and mails its verification link.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	verr := &ValidationError{}
	verr.add("username", utils.ValidateUsername(in.Username))
	verr.add("password", utils.ValidatePassword(in.Password))
	verr.add("email", utils.ValidateEmail(in.Email))
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	email := utils.NormalizeEmail(in.Email)

	// Fast-path checks for a precise message. The unique indexes decide races below.
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return nil, &ConflictError{Field: "email"}
	} else if !errors.Is(err, utils.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if _, err := s.store.FindByUsername(ctx, in.Username); err == nil {
		return nil, &ConflictError{Field: "username"}
	} else if !errors.Is(err, utils.ErrNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := utils.GenerateHexToken(utils.VerificationTokenBytes)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     in.Username,
		Email:        email,
		Password:     hash,
		PasswordKind: models.PasswordBcrypt,
		EmailStatus:  models.EmailNotVerified,
	}
	expiresAt := s.now().Add(s.opts.VerifyTokenTTL)
	err = s.store.InTx(ctx, func(tx utils.CredentialStore) error {
		id, err := tx.InsertUser(ctx, user)
		if err != nil {
			return err
		}
		user.ID = id
		return tx.SetTokenForUser(ctx, id, utils.HashToken(token), expiresAt)
	})
	if err != nil {
		var dup *utils.DuplicateError
		if errors.As(err, &dup) {
			field := dup.Field
			if field != "username" {
				field = "email"
			}
			return nil, &ConflictError{Field: field}
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.log.Info("account created", zap.Int64("user_id", user.ID), zap.String("username", user.Username))

	result := &SignupResult{User: user}
	if err := s.sendVerification(ctx, user, token); err != nil {
		s.log.Error("verification email failed", zap.Int64("user_id", user.ID), zap.Error(err))
		result.DeliveryErr = &DeliveryError{Err: err}
	}
	return result, nil
}

type ResendInput struct {
	Email     string
	ClientKey string
}

// ResendVerification replaces the verification token of an unverified account with a
// fresh one and mails it. Unknown and already verified addresses succeed without
// sending anything, so the answer does not reveal which addresses are registered.
func (s *Service) ResendVerification(ctx context.Context, in ResendInput) error {
	if err := s.allow(ctx, s.limiters.Resend, "verification email requests", in.ClientKey); err != nil {
		return err
	}
	verr := &ValidationError{}
	verr.add("email", utils.ValidateEmail(in.Email))
	if err := verr.orNil(); err != nil {
		return err
	}

	user, err := s.store.FindByEmail(ctx, utils.NormalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}
	if user.IsVerified() {
		return nil
	}

	token, err := utils.GenerateHexToken(utils.VerificationTokenBytes)
	if err != nil {
		return err
	}
	if err := s.store.SetTokenForUser(ctx, user.ID, utils.HashToken(token), s.now().Add(s.opts.VerifyTokenTTL)); err != nil {
		return fmt.Errorf("reissue token: %w", err)
	}
	s.log.Info("verification token reissued", zap.Int64("user_id", user.ID))

	if err := s.sendVerification(ctx, user, token); err != nil {
		s.log.Error("verification email failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return &DeliveryError{Err: err}
	}
	return nil
}

func (s *Service) sendVerification(ctx context.Context, user *models.User, token string) error {
	msg, err := VerificationMessage(s.opts.BaseURL, user, token)
	if err != nil {
		return err
	}
	// The account already exists: a client hanging up must not abort delivery, but
	// delivery must not hold the response for longer than the mail timeout either.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.MailTimeout)
	defer cancel()
	return s.mailer.Send(ctx, msg)
}

// Verify marks the account verified when token is the one issued for userID.
// Replaying a consumed token for an already verified account succeeds without effect.
// Every other failure is ErrVerificationFailed, whatever its cause.
func (s *Service) Verify(ctx context.Context, userID int64, token string) error {
	if userID <= 0 || !wellFormedToken(token) {
		return ErrVerificationFailed
	}

	stored, err := s.store.FindTokenByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return ErrVerificationFailed
		}
		return fmt.Errorf("find token: %w", err)
	}
	if !utils.TokenMatches(stored.TokenHash, token) {
		return ErrVerificationFailed
	}
	if stored.Consumed() {
		return nil
	}
	if stored.Expired(s.now()) {
		return ErrVerificationFailed
	}

	err = s.store.InTx(ctx, func(tx utils.CredentialStore) error {
		if err := tx.ConsumeToken(ctx, userID); err != nil {
			return err
		}
		return tx.SetVerified(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return ErrVerificationFailed
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	s.log.Info("email verified", zap.Int64("user_id", userID))
	return nil
}

// CurrentUser loads the account a session points at.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.FindByID(ctx, userID)
}

func wellFormedToken(token string) bool {
	if len(token) != 2*utils.VerificationTokenBytes {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
