package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatcore/internal/events"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}){1,2}$`)

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
	UpdateColor(ctx context.Context, id int, color string) (*User, error)
	UpdateAvatar(ctx context.Context, id int, avatar string) (*User, error)
}

// ProfilePublisher is notified after a color or avatar change is persisted.
type ProfilePublisher interface {
	PublishProfileChange(ctx context.Context, change events.ProfileChange) error
}

type Service struct {
	repo      Store
	publisher ProfilePublisher
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Store, publisher ProfilePublisher, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email, username and password are required", ErrInvalidInput)
	}
	if len(req.Username) > 50 {
		return nil, fmt.Errorf("%w: username is too long", ErrInvalidInput)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	color, err := randomColor()
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashedPwd),
		Color:    color,
	}

	return s.repo.CreateUser(ctx, u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ss, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{AccessToken: ss, User: u}, nil
}

// IssueToken signs an access token whose subject is the user id.
func (s *Service) IssueToken(u *User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chatcore",
			Subject:   strconv.Itoa(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}

	return id, claims.Username, nil
}

// VerifyCredential decodes a bearer token into a user id.
func (s *Service) VerifyCredential(token string) (int, error) {
	id, _, err := s.ValidateToken(token)
	return id, err
}

func (s *Service) FindUser(ctx context.Context, id int) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, strings.TrimSpace(query))
}

func (s *Service) UpdateColor(ctx context.Context, userID int, color string) (*User, error) {
	color = strings.TrimSpace(color)
	if !hexColor.MatchString(color) {
		return nil, fmt.Errorf("%w: color must be a valid hex color code", ErrInvalidInput)
	}

	u, err := s.repo.UpdateColor(ctx, userID, color)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ProfileChange{
		Kind:     events.ColorChanged,
		UserID:   u.ID,
		Username: u.Username,
		Value:    u.Color,
	})
	return u, nil
}

func (s *Service) UpdateAvatar(ctx context.Context, userID int, avatar string) (*User, error) {
	if strings.TrimSpace(avatar) == "" {
		return nil, fmt.Errorf("%w: avatar is required", ErrInvalidInput)
	}

	u, err := s.repo.UpdateAvatar(ctx, userID, avatar)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ProfileChange{
		Kind:     events.AvatarChanged,
		UserID:   u.ID,
		Username: u.Username,
		Value:    u.Avatar,
	})
	return u, nil
}

// publish is best effort. The profile row is already committed.
func (s *Service) publish(ctx context.Context, change events.ProfileChange) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProfileChange(ctx, change); err != nil {
		log.Printf("[user] ❌ failed to publish %s change for user %d: %v", change.Kind, change.UserID, err)
	}
}

func randomColor() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("#%02x%02x%02x", b[0], b[1], b[2]), nil
}
