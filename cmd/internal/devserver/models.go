package devserver

import (
	"time"

	authapi "inframon/cmd/internal/auth/api"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	TokenType    string        `json:"token_type"`
	Expires      int64         `json:"expires"`
	User         *authapi.User `json:"user,omitempty"`
}

// Host is one monitored machine served by the demo resource endpoints.
type Host struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CPU       float64   `json:"cpu"`
	CheckedAt time.Time `json:"checked_at"`
}

type hostsResponse struct {
	Hosts []Host `json:"hosts"`
}
