// Package connections resolves usable OAuth credentials for adapter calls
// and records the health outcomes of those calls.
package connections

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/secrets"
)

// Credentials is frame-scoped plaintext token material. It is handed to one
// adapter invocation and never cached; the sealed blobs on the connection
// row are the only durable copy.
type Credentials struct {
	AccessToken string
	TokenType   string
}

// OAuthEndpoints configures the token-refresh endpoint per service.
type OAuthEndpoints struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

type Service struct {
	repo      repository.ConnectionRepository
	box       *secrets.Box
	endpoints map[constants.DestinationType]OAuthEndpoints
	logger    *slog.Logger
}

func NewService(
	repo repository.ConnectionRepository,
	box *secrets.Box,
	endpoints map[constants.DestinationType]OAuthEndpoints,
	logger *slog.Logger,
) *Service {
	return &Service{repo: repo, box: box, endpoints: endpoints, logger: logger}
}

// Enroll seals fresh token material into a new ACTIVE connection row.
func (s *Service) Enroll(ctx context.Context, conn *entity.Connection, accessToken, refreshToken string) error {
	if accessToken == "" && refreshToken == "" {
		return common.ValidationError("token material is required", nil)
	}
	var err error
	if accessToken != "" {
		if conn.AccessCiphertext, err = s.box.Seal(accessToken); err != nil {
			return common.WrapError(err, "seal access token")
		}
	}
	if refreshToken != "" {
		if conn.RefreshCiphertext, err = s.box.Seal(refreshToken); err != nil {
			return common.WrapError(err, "seal refresh token")
		}
	}
	conn.Status = constants.ConnectionStatusActive
	return s.repo.Create(ctx, conn)
}

// Credentials opens the sealed token material for one outbound call,
// refreshing through the OAuth endpoint when the access token is expired.
// Refresh happens inline per invocation; concurrent syncs to the same
// destination may each refresh independently.
func (s *Service) Credentials(ctx context.Context, conn *entity.Connection) (Credentials, error) {
	switch conn.Status {
	case constants.ConnectionStatusDisabled, constants.ConnectionStatusArchived:
		return Credentials{}, common.AuthorizationError("connection requires reauthentication", nil)
	}

	if len(conn.AccessCiphertext) > 0 && conn.TokenExpiry != nil && conn.TokenExpiry.After(time.Now().Add(time.Minute)) {
		access, err := s.box.Open(conn.AccessCiphertext)
		if err == nil {
			return Credentials{AccessToken: access, TokenType: "Bearer"}, nil
		}
		s.logger.Warn("sealed access token unreadable, forcing refresh",
			"connection_id", conn.ID, "error", err)
	}

	return s.refresh(ctx, conn)
}

func (s *Service) refresh(ctx context.Context, conn *entity.Connection) (Credentials, error) {
	ep, ok := s.endpoints[conn.Service]
	if !ok {
		return Credentials{}, common.ValidationError("no oauth endpoint configured for service", nil)
	}
	if len(conn.RefreshCiphertext) == 0 {
		return Credentials{}, common.AuthorizationError("connection has no refresh token", nil)
	}
	refreshToken, err := s.box.Open(conn.RefreshCiphertext)
	if err != nil {
		return Credentials{}, common.AuthorizationError("sealed refresh token unreadable", err)
	}

	cfg := &oauth2.Config{
		ClientID:     ep.ClientID,
		ClientSecret: ep.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: ep.TokenURL},
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		s.logger.Error("oauth refresh failed", "connection_id", conn.ID, "error", err)
		return Credentials{}, common.AuthorizationError("oauth token refresh failed", err)
	}

	s.persistRefreshed(ctx, conn, tok, refreshToken)

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return Credentials{AccessToken: tok.AccessToken, TokenType: tokenType}, nil
}

// persistRefreshed re-seals the rotated tokens. Best effort: a write failure
// means the next invocation refreshes again, which is safe.
func (s *Service) persistRefreshed(ctx context.Context, conn *entity.Connection, tok *oauth2.Token, priorRefresh string) {
	accessSealed, err := s.box.Seal(tok.AccessToken)
	if err != nil {
		s.logger.Warn("failed to seal refreshed access token", "connection_id", conn.ID, "error", err)
		return
	}
	var refreshSealed []byte
	if tok.RefreshToken != "" && tok.RefreshToken != priorRefresh {
		refreshSealed, err = s.box.Seal(tok.RefreshToken)
		if err != nil {
			s.logger.Warn("failed to seal rotated refresh token", "connection_id", conn.ID, "error", err)
			refreshSealed = nil
		}
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiry = &e
	}
	if err := s.repo.UpdateTokens(ctx, conn.ID, accessSealed, refreshSealed, expiry); err != nil {
		s.logger.Warn("failed to persist refreshed tokens", "connection_id", conn.ID, "error", err)
	}
}

// GetByID loads a connection row.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByOrgService loads the newest non-archived connection for the pair.
func (s *Service) GetByOrgService(ctx context.Context, orgID uuid.UUID, service constants.DestinationType) (*entity.Connection, error) {
	return s.repo.GetByOrgService(ctx, orgID, service)
}

// Reactivate restores a DISABLED connection to ACTIVE after the user has
// re-authenticated out of band.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Reactivate(ctx, id)
}

// RecordFailure notes a failed outbound call on the connection.
func (s *Service) RecordFailure(ctx context.Context, conn *entity.Connection, message string) {
	if err := s.repo.RecordFailure(ctx, conn.ID, message, time.Now().UTC()); err != nil {
		s.logger.Error("failed to record connection failure", "connection_id", conn.ID, "error", err)
	}
}

// RecordSuccess clears error state after a successful outbound call.
func (s *Service) RecordSuccess(ctx context.Context, conn *entity.Connection) {
	if err := s.repo.RecordSuccess(ctx, conn.ID); err != nil {
		s.logger.Error("failed to record connection success", "connection_id", conn.ID, "error", err)
	}
}
