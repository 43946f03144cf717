package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const PrimaryCalendar = "primary"

// CredentialStore persists per-owner OAuth tokens.
type CredentialStore interface {
	Get(ctx context.Context, ownerID string) (*oauth2.Token, bool, error)
	Save(ctx context.Context, ownerID string, tok *oauth2.Token) error
}

// OAuthConfig holds the Google client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewOAuth2Config builds the consent flow config for calendar event access.
func NewOAuth2Config(cfg OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarEventsScope},
	}
}

// GoogleProvider opens each owner's primary Google calendar with the token
// stored for them. Refreshed tokens are written back.
type GoogleProvider struct {
	oauth      *oauth2.Config
	creds      CredentialStore
	calendarID string
	logger     *zap.Logger
}

func NewGoogleProvider(oauth *oauth2.Config, creds CredentialStore, calendarID string, logger *zap.Logger) *GoogleProvider {
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}
	return &GoogleProvider{oauth: oauth, creds: creds, calendarID: calendarID, logger: logger}
}

func (p *GoogleProvider) ForOwner(ctx context.Context, ownerID string) (Service, bool, error) {
	tok, ok, err := p.creds.Get(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("load calendar credentials: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	ts := &savingTokenSource{
		base:    p.oauth.TokenSource(context.Background(), tok),
		last:    tok,
		ownerID: ownerID,
		creds:   p.creds,
		logger:  p.logger,
	}
	srv, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, false, fmt.Errorf("unable to create calendar client: %w", err)
	}
	return &googleCalendar{srv: srv, calendarID: p.calendarID}, true, nil
}

// savingTokenSource 刷新后把新 token 写回存储
type savingTokenSource struct {
	base    oauth2.TokenSource
	ownerID string
	creds   CredentialStore
	logger  *zap.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.creds.Save(ctx, s.ownerID, tok); err != nil {
			s.logger.Warn("Failed to persist refreshed token", zap.String("owner_id", s.ownerID), zap.Error(err))
		}
		s.last = tok
	}
	return tok, nil
}

type googleCalendar struct {
	srv        *gcal.Service
	calendarID string
}

func (c *googleCalendar) Insert(ctx context.Context, ev *gcal.Event) (string, error) {
	created, err := c.srv.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (c *googleCalendar) Patch(ctx context.Context, eventID string, ev *gcal.Event) error {
	_, err := c.srv.Events.Patch(c.calendarID, eventID, ev).Context(ctx).Do()
	return err
}

func (c *googleCalendar) Delete(ctx context.Context, eventID string) error {
	return c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
}

func (c *googleCalendar) FindByTaskID(ctx context.Context, taskID string) (string, bool, error) {
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", TaskIDProperty, taskID)).
		ShowDeleted(false).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, err
	}
	if len(events.Items) == 0 {
		return "", false, nil
	}
	return events.Items[0].Id, true, nil
}

// IsGone reports whether the calendar says the event no longer exists.
func IsGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}
