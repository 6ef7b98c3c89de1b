package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

const testCookieName = "sb-abcd-auth-token"

func TestProjectRef(t *testing.T) {
	tests := map[string]string{
		"https://abcd.supabase.co":  "abcd",
		"https://abcd.supabase.co/": "abcd",
		"http://127.0.0.1:54321":    "127",
		"http://localhost:54321":    "localhost",
	}
	for in, want := range tests {
		if got := ProjectRef(in); got != want {
			t.Errorf("ProjectRef(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SessionCookieName("abcd"); got != testCookieName {
		t.Errorf("SessionCookieName = %q", got)
	}
}

func TestAccessTokenFromCookies_Formats(t *testing.T) {
	session := `{"access_token":"tok-1","refresh_token":"r","token_type":"bearer"}`

	tests := []struct {
		name    string
		cookies []*http.Cookie
		want    string
		wantErr bool
	}{
		{
			name:    "base64url encoded",
			cookies: []*http.Cookie{{Name: testCookieName, Value: "base64-" + base64.RawURLEncoding.EncodeToString([]byte(session))}},
			want:    "tok-1",
		},
		{
			name:    "base64 with padding",
			cookies: []*http.Cookie{{Name: testCookieName, Value: "base64-" + base64.URLEncoding.EncodeToString([]byte(session))}},
			want:    "tok-1",
		},
		{
			name:    "url encoded json",
			cookies: []*http.Cookie{{Name: testCookieName, Value: url.QueryEscape(session)}},
			want:    "tok-1",
		},
		{
			name:    "legacy array",
			cookies: []*http.Cookie{{Name: testCookieName, Value: url.QueryEscape(`["tok-2","refresh",null,null,null]`)}},
			want:    "tok-2",
		},
		{
			name:    "missing cookie",
			wantErr: true,
		},
		{
			name:    "other project cookie",
			cookies: []*http.Cookie{{Name: "sb-other-auth-token", Value: url.QueryEscape(session)}},
			wantErr: true,
		},
		{
			name:    "garbage",
			cookies: []*http.Cookie{{Name: testCookieName, Value: "base64-!!!"}},
			wantErr: true,
		},
		{
			name:    "session without token",
			cookies: []*http.Cookie{{Name: testCookieName, Value: url.QueryEscape(`{"user":{}}`)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/entitlements", nil)
			for _, c := range tt.cookies {
				req.AddCookie(c)
			}

			got, err := AccessTokenFromCookies(req, testCookieName)
			if tt.wantErr {
				if !errors.Is(err, ErrNoSessionCookie) {
					t.Errorf("err = %v, want ErrNoSessionCookie", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccessTokenFromCookies_Chunked(t *testing.T) {
	encoded := "base64-" + base64.RawURLEncoding.EncodeToString([]byte(`{"access_token":"chunked-token"}`))
	mid := len(encoded) / 2

	req := httptest.NewRequest(http.MethodGet, "/billing-portal", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName + ".1", Value: encoded[mid:]})
	req.AddCookie(&http.Cookie{Name: testCookieName + ".0", Value: encoded[:mid]})

	got, err := AccessTokenFromCookies(req, testCookieName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "chunked-token" {
		t.Errorf("token = %q, want chunked-token", got)
	}
}
