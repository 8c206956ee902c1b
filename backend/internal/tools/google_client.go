package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"coyote/backend/pkg/config"
)

var googleScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	calendar.CalendarScope,
	drive.DriveReadonlyScope,
}

// GoogleServices bundles the API clients behind the Gmail, Calendar and Drive tools
type GoogleServices struct {
	Gmail    *gmail.Service
	Calendar *calendar.Service
	Drive    *drive.Service
}

// NewGoogleHTTPClient returns an HTTP client that authorizes with the stored
// user credentials and refreshes the access token when it can.
func NewGoogleHTTPClient(ctx context.Context, creds *config.GoogleCredentials) *http.Client {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       googleScopes,
	}

	token := &oauth2.Token{
		AccessToken:  creds.Token,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	// The stored access token has no known expiry; refresh it on first use
	if token.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	return conf.Client(ctx, token)
}

// NewGoogleServices builds the three API clients with shared client options
func NewGoogleServices(ctx context.Context, opts ...option.ClientOption) (*GoogleServices, error) {
	gmailService, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	calendarService, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GoogleServices{
		Gmail:    gmailService,
		Calendar: calendarService,
		Drive:    driveService,
	}, nil
}
