package model

import (
	"testing"
	"time"
)

func TestCredentialsRoundTrip(t *testing.T) {
	orig := Credentials{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		Expiry:       time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC),
		ClientID:     "client-id.apps.googleusercontent.com",
		ClientSecret: "secret",
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
	}

	raw, err := orig.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := ParseCredentials(raw)
	if err != nil {
		t.Fatalf("ParseCredentials: %v", err)
	}

	if got.AccessToken != orig.AccessToken ||
		got.RefreshToken != orig.RefreshToken ||
		!got.Expiry.Equal(orig.Expiry) ||
		got.ClientID != orig.ClientID ||
		got.ClientSecret != orig.ClientSecret ||
		len(got.Scopes) != 1 || got.Scopes[0] != orig.Scopes[0] {
		t.Errorf("round trip mismatch: %+v != %+v", got, orig)
	}
}

func TestParseCredentialsInvalid(t *testing.T) {
	if _, err := ParseCredentials("{not json"); err == nil {
		t.Error("ParseCredentials should fail on malformed input")
	}
}

func TestCredentialsExpired(t *testing.T) {
	now := time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero expiry never expires", time.Time{}, false},
		{"expires in an hour", now.Add(time.Hour), false},
		{"expired an hour ago", now.Add(-time.Hour), true},
		{"inside the one-minute margin", now.Add(30 * time.Second), true},
		{"just outside the margin", now.Add(90 * time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Credentials{Expiry: tt.expiry}
			if got := c.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"a@b@c", "***@***"},
	}

	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Quick question", "Quick question"},
		{"Re: Quick question", "Quick question"},
		{"RE: re: Quick question", "Quick question"},
		{"  Re:   Spaced out  ", "Spaced out"},
		{"Regarding the plan", "Regarding the plan"},
	}

	for _, tt := range tests {
		if got := NormalizeSubject(tt.in); got != tt.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
