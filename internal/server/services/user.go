package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/cryptox"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/server/auth"
	"github.com/dmitrijs2005/qvault/internal/server/config"
	"github.com/dmitrijs2005/qvault/internal/server/models"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	ActionLogin        = "LOGIN"
	ActionLoginFail    = "LOGIN_FAIL"
	ActionLoginBlocked = "LOGIN_BLOCKED"
	ActionLogout       = "LOGOUT"
	ActionUserCreate   = "USER_CREATE"
	ActionUserUpdate   = "USER_UPDATE"
	ActionUserDelete   = "USER_DELETE"

	minUserNameLength = 3
	maxUserNameLength = 80
	minPasswordLength = 6
	maxProfileField   = 80
)

// dummyPasswordHash is checked against when the login is unknown so both
// paths cost one argon2 derivation.
var dummyPasswordHash = cryptox.HashPassword(uuid.NewString())

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is a successful login.
type LoginResult struct {
	Tokens *TokenPair
	User   *models.User
}

// UserService authenticates callers and manages accounts:
// - Login/RefreshToken/Logout: credentials, JWTs and rotating refresh tokens
// - Authenticate: resolve a bearer token to the current user row
// - List/Create/Update/Delete: account administration
type UserService struct {
	db                           *dbx.DB
	repomanager                  repomanager.RepositoryManager
	audit                        *AuditService
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *dbx.DB, m repomanager.RepositoryManager, audit *AuditService, cfg *config.Config) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		audit:                        audit,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// Login verifies the password and, for active accounts, returns a new
// TokenPair.
func (s *UserService) Login(ctx context.Context, userName, password string, meta RequestMeta) (*LoginResult, error) {
	userName = strings.TrimSpace(userName)

	var problems []string
	if userName == "" {
		problems = append(problems, "username is required")
	} else if utf8.RuneCountInString(userName) > maxUserNameLength {
		problems = append(problems, "username too long")
	}
	if password == "" {
		problems = append(problems, "password is required")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", common.ErrorValidation, strings.Join(problems, ", "))
	}

	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, userName)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	hash := dummyPasswordHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, checkErr := cryptox.CheckPassword(hash, password)

	if user == nil || !ok || checkErr != nil {
		s.auditBestEffort(ctx, AuditEvent{
			UserName:   userName,
			ActionType: ActionLoginFail,
			Message:    "Invalid credentials",
			Level:      common.LevelWarning,
			Meta:       meta,
		})
		return nil, fmt.Errorf("%w: invalid username or password", common.ErrorUnauthorized)
	}

	if user.Status != common.StatusActive {
		s.auditBestEffort(ctx, AuditEvent{
			UserName:   userName,
			ActionType: ActionLoginBlocked,
			Message:    "Login blocked - account locked",
			Level:      common.LevelWarning,
			Meta:       meta,
		})
		return nil, common.ErrAccountLocked
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if pair, err = s.generateTokenPair(ctx, user.ID, tx); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, AuditEvent{
			UserName:   user.UserName,
			ActionType: ActionLogin,
			Message:    "User logged in successfully",
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{Tokens: pair, User: user}, nil
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair. Expired tokens yield ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", common.ErrorValidation)
	}

	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}

	if token.Expires.Before(s.now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	user, err := s.repomanager.Users(s.db).Get(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if user.Status != common.StatusActive {
		return nil, common.ErrAccountLocked
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.RefreshTokens(tx)
		if err := repoTx.Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes refreshToken, or every refresh token of the caller when
// none is given.
func (s *UserService) Logout(ctx context.Context, p models.Principal, refreshToken string, meta RequestMeta) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)
		var err error
		if refreshToken != "" {
			err = repo.Delete(ctx, refreshToken)
		} else {
			err = repo.DeleteByUser(ctx, p.ID)
		}
		if err != nil {
			return fmt.Errorf("error revoking refresh token: %w", err)
		}
		_, err = s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionLogout,
			Message:    "User logged out",
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
}

// Authenticate resolves an access token to the current state of its user.
func (s *UserService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", common.ErrInvalidToken)
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

// List returns every account. Admin only.
func (s *UserService) List(ctx context.Context, p models.Principal) ([]models.User, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}
	users, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	return users, nil
}

// CreateUserInput is a new account. Unknown roles fall back to user.
type CreateUserInput struct {
	UserName   string
	Password   string
	Name       string
	Role       string
	Department string
}

// Create adds an active account. Admin only.
func (s *UserService) Create(ctx context.Context, p models.Principal, in CreateUserInput, meta RequestMeta) (*models.User, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}

	user, err := NewUser(in, s.now())
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).Create(ctx, user); err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return fmt.Errorf("%w: username %s is taken", common.ErrorAlreadyExists, user.UserName)
			}
			return fmt.Errorf("error creating user: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionUserCreate,
			Message:    fmt.Sprintf("Created user %s with role %s", user.UserName, user.Role),
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// NewUser validates in and builds the row for it, password hashed.
func NewUser(in CreateUserInput, now time.Time) (*models.User, error) {
	userName := strings.TrimSpace(in.UserName)
	n := utf8.RuneCountInString(userName)
	if n < minUserNameLength {
		return nil, fmt.Errorf("%w: username must be at least %d characters", common.ErrorValidation, minUserNameLength)
	}
	if n > maxUserNameLength {
		return nil, fmt.Errorf("%w: username too long", common.ErrorValidation)
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}

	role := in.Role
	if role != common.RoleAdmin && role != common.RoleUser {
		role = common.RoleUser
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = userName
	}

	return &models.User{
		ID:           uuid.NewString(),
		UserName:     userName,
		PasswordHash: cryptox.HashPassword(in.Password),
		Name:         truncateRunes(name, maxProfileField),
		Role:         role,
		Department:   truncateRunes(strings.TrimSpace(in.Department), maxProfileField),
		Status:       common.StatusActive,
		CreatedAt:    now.UTC(),
	}, nil
}

// UpdateUserInput carries only the fields to change.
type UpdateUserInput struct {
	Name       *string
	Department *string
	Status     *string
	Role       *string
	Password   *string
}

// Update changes an account. Admins may update anyone, users only
// themselves; status and role are admin-only and ignored when invalid. A
// password shorter than the minimum is ignored.
func (s *UserService) Update(ctx context.Context, p models.Principal, userID string, in UpdateUserInput, meta RequestMeta) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user not found", common.ErrorNotFound)
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if !p.IsAdmin() && p.ID != userID {
		return nil, fmt.Errorf("%w: access denied", common.ErrorForbidden)
	}

	if in.Name != nil {
		user.Name = truncateRunes(*in.Name, maxProfileField)
	}
	if in.Department != nil {
		user.Department = truncateRunes(*in.Department, maxProfileField)
	}
	if p.IsAdmin() {
		if in.Status != nil && (*in.Status == common.StatusActive || *in.Status == common.StatusLocked) {
			user.Status = *in.Status
		}
		if in.Role != nil && (*in.Role == common.RoleAdmin || *in.Role == common.RoleUser) {
			user.Role = *in.Role
		}
	}
	if in.Password != nil && utf8.RuneCountInString(*in.Password) >= minPasswordLength {
		user.PasswordHash = cryptox.HashPassword(*in.Password)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).Update(ctx, user); err != nil {
			return fmt.Errorf("error updating user: %w", err)
		}
		if user.Status != common.StatusActive {
			if err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, user.ID); err != nil {
				return fmt.Errorf("error revoking refresh tokens: %w", err)
			}
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionUserUpdate,
			Message:    fmt.Sprintf("Updated user %s", user.UserName),
			Level:      common.LevelInfo,
			Meta:       meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes an account. Admin only, and never the caller's own.
func (s *UserService) Delete(ctx context.Context, p models.Principal, userID string, meta RequestMeta) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin access required", common.ErrorForbidden)
	}
	if p.ID == userID {
		return fmt.Errorf("%w: cannot delete yourself", common.ErrorForbidden)
	}

	user, err := s.repomanager.Users(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: user not found", common.ErrorNotFound)
		}
		return fmt.Errorf("error loading user: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, user.ID); err != nil {
			return fmt.Errorf("error revoking refresh tokens: %w", err)
		}
		if err := s.repomanager.Users(tx).Delete(ctx, user.ID); err != nil {
			return fmt.Errorf("error deleting user: %w", err)
		}
		_, err := s.audit.Record(ctx, tx, AuditEvent{
			UserName:   p.UserName,
			ActionType: ActionUserDelete,
			Message:    fmt.Sprintf("Deleted user %s", user.UserName),
			Level:      common.LevelWarning,
			Meta:       meta,
		})
		return err
	})
}

// --- helpers below ---

func (s *UserService) auditBestEffort(ctx context.Context, ev AuditEvent) {
	if _, err := s.audit.Record(ctx, nil, ev); err != nil {
		s.audit.logger.Error(ctx, "failed to write audit entry", "action", ev.ActionType, "error", err)
	}
}

func (s *UserService) generateAccessToken(userID string) (string, error) {
	return auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
}

func (s *UserService) generateRefreshToken() (string, error) {
	return common.MakeRandHexString(32)
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := s.generateAccessToken(userID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := s.generateRefreshToken()
	if err != nil {
		return nil, common.ErrorInternal
	}
	refreshRepo := s.repomanager.RefreshTokens(tx)
	if err := refreshRepo.Create(ctx, userID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
