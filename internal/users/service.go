// Package users implements accounts: registration with optional email
// confirmation, login, profile changes and account deletion. It owns the
// moment a user's master key is created and the rewrap on password change.
package users

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/kenneth/envvault/internal/auth"
	"github.com/kenneth/envvault/internal/config"
	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/mail"
	"github.com/kenneth/envvault/internal/store"
	"github.com/kenneth/envvault/internal/vault"
)

const (
	MinUsernameLength = 2
	MinPasswordLength = 6
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// EnvironmentCleaner removes a user's environments when the account goes away.
type EnvironmentCleaner interface {
	DeleteAuthoredBy(ctx context.Context, userID string) (int, error)
}

// Deps are the collaborators of the user service.
type Deps struct {
	Users        store.Users
	Environments EnvironmentCleaner
	Vault        *vault.Vault
	Suite        *crypto.Suite
	Sessions     *auth.Manager
	Mailer       mail.Sender
	EmailPolicy  *config.EmailPolicy
	Logger       *logrus.Logger
}

// Service manages accounts.
type Service struct {
	users     store.Users
	envs      EnvironmentCleaner
	vault     *vault.Vault
	cipher    *crypto.Cipher
	linkKey   []byte
	linkMAC   []byte
	sessions  *auth.Manager
	mailer    mail.Sender
	policy    *config.EmailPolicy
	logger    *logrus.Logger
	cfg       config.RegistrationConfig
	publicURL string
	cost      int
	now       func() time.Time
	suffix    func() int
}

// Session is a logged-in user and their session token.
type Session struct {
	User  *domain.User
	Token string
}

// Registration is the outcome of a sign-up request. Exactly one of Pending
// and Session is meaningful.
type Registration struct {
	Pending bool
	Email   string
	Session *Session
}

// NewService creates the user service.
func NewService(deps Deps, cfg *config.Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	policy := deps.EmailPolicy
	if policy == nil {
		policy = config.NewEmailPolicy(cfg.Registration.AllowedEmails)
	}
	cost := cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		users:     deps.Users,
		envs:      deps.Environments,
		vault:     deps.Vault,
		cipher:    deps.Suite.Cipher,
		linkKey:   deps.Suite.LinkKey,
		linkMAC:   deps.Suite.LinkMACKey,
		sessions:  deps.Sessions,
		mailer:    deps.Mailer,
		policy:    policy,
		logger:    logger,
		cfg:       cfg.Registration,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		cost:      cost,
		now:       time.Now,
		suffix:    func() int { return rand.IntN(1000) + 1 },
	}
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return domain.Validation("username", "username must be at least %d characters", MinUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return domain.Validation("username", "username may contain only letters and digits")
	}
	return nil
}

func validateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return domain.Validation("email", "email is not a valid address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return domain.Validation("password", "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", domain.Validation("password", "password is too long")
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// taken reports whether another user than exceptID matches filter.
func (s *Service) taken(ctx context.Context, filter store.UserFilter, exceptID string) (bool, error) {
	u, err := s.users.FindUser(ctx, filter)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return u.ID != exceptID, nil
}

// Register validates a sign-up. With confirmation enabled it mails a sealed
// link and creates nothing; otherwise it creates the user and logs them in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if !s.policy.Allowed(email) {
		return nil, domain.Validation("email", "registration is not open for this address")
	}

	if taken, err := s.taken(ctx, store.UserFilter{Username: username}, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, domain.DuplicateKey("username", "username already exists")
	}
	if taken, err := s.taken(ctx, store.UserFilter{Email: email}, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, domain.DuplicateKey("email", "email already exists")
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	if s.cfg.RequireConfirmation {
		if err := s.sendConfirmation(ctx, username, email, hash); err != nil {
			return nil, err
		}
		return &Registration{Pending: true, Email: email}, nil
	}

	session, err := s.create(ctx, username, email, hash)
	if err != nil {
		return nil, err
	}
	return &Registration{Email: email, Session: session}, nil
}

func (s *Service) sendConfirmation(ctx context.Context, username, email, hash string) error {
	expires := s.now().Add(s.cfg.LinkTTL)
	sealed, err := s.sealLink(linkPayload{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		ExpiresAt:    expires.Unix(),
	})
	if err != nil {
		return err
	}

	msg, err := mail.ConfirmationMessage(email, mail.Confirmation{
		Username:  username,
		Link:      s.publicURL + "/api/users/confirm/" + sealed,
		ExpiresAt: expires,
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}

	s.logger.WithField("email", email).Info("Registration confirmation sent")
	return nil
}

// Confirm completes a registration from a sealed link. A username taken in
// the meantime gets a numeric suffix; a taken email fails.
func (s *Service) Confirm(ctx context.Context, sealed string) (*Session, error) {
	p, err := s.openLink(sealed)
	if err != nil {
		return nil, err
	}

	if err := validateUsername(p.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(p.Email); err != nil {
		return nil, err
	}
	// The allowlist may have changed since the link was mailed.
	if !s.policy.Allowed(p.Email) {
		return nil, domain.Validation("email", "registration is not open for this address")
	}

	username := p.Username
	if taken, err := s.taken(ctx, store.UserFilter{Username: username}, ""); err != nil {
		return nil, err
	} else if taken {
		username += strconv.Itoa(s.suffix())
	}
	if taken, err := s.taken(ctx, store.UserFilter{Email: p.Email}, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, domain.DuplicateKey("email", "already registered")
	}

	return s.create(ctx, username, p.Email, p.PasswordHash)
}

// create stores a new user with a freshly generated master key.
func (s *Service) create(ctx context.Context, username, email, hash string) (*Session, error) {
	wrap, err := s.vault.Initialize(hash)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &domain.User{
		ID:               uuid.NewString(),
		Username:         username,
		Email:            email,
		PasswordHash:     hash,
		WrappedMasterKey: wrap,
		Credentials:      []domain.Credential{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.DuplicateKey("username", "username or email already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  u.ID,
		"username": u.Username,
	}).Info("User created")
	return s.session(u)
}

func (s *Service) session(u *domain.User) (*Session, error) {
	token, err := s.sessions.Issue(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token}, nil
}

// Login verifies email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.Validation("email", "email and password are required")
	}

	u, err := s.users.FindUser(ctx, store.UserFilter{Email: email})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Validation("email", "email or password is invalid")
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.WithField("user_id", u.ID).Warn("Login failed: wrong password")
		return nil, domain.Validation("email", "email or password is invalid")
	}
	return s.session(u)
}

// Authenticate resolves a session token to the current user record. The user
// is loaded on every call so key material is never stale.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil, domain.InvalidToken("auth", err)
	}
	u, err := s.users.FindUser(ctx, store.UserFilter{ID: claims.UserID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Unauthenticated("user no longer exists")
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	return u, nil
}
