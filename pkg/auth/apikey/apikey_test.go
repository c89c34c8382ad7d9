package apikey

import (
	"context"
	"net/http"
	"testing"

	"github.com/chorus-llm/chorus/pkg/auth"
)

func twoKeyTable() *Authenticator {
	return New([]RawKeyEntry{
		{
			Key: "sk-test-key-1",
			Identity: auth.Identity{
				Subject:     "alice",
				ServiceTier: "standard",
				Metadata:    map[string]string{"team": "platform"},
			},
		},
		{
			Key: "sk-test-key-2",
			Identity: auth.Identity{
				Subject:     "bob",
				ServiceTier: "premium",
			},
		},
	})
}

func vote(a *Authenticator, authorization string) auth.Result {
	r, _ := http.NewRequest("GET", "/", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return a.Authenticate(context.Background(), r)
}

func TestKnownKeysResolveIdentity(t *testing.T) {
	a := twoKeyTable()

	result := vote(a, "Bearer sk-test-key-1")
	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.Subject != "alice" || result.Identity.ServiceTier != "standard" {
		t.Errorf("Identity = %+v, want alice/standard", result.Identity)
	}
	if result.Identity.Metadata["team"] != "platform" {
		t.Errorf("Metadata[team] = %q, want platform", result.Identity.Metadata["team"])
	}

	result = vote(a, "Bearer sk-test-key-2")
	if result.Decision != auth.Yes || result.Identity.Subject != "bob" {
		t.Errorf("second key: Decision = %d, Identity = %+v, want Yes/bob", result.Decision, result.Identity)
	}
}

func TestDecisionTable(t *testing.T) {
	a := twoKeyTable()

	tests := []struct {
		name          string
		authorization string
		want          auth.Decision
	}{
		{"unknown key", "Bearer sk-wrong-key", auth.No},
		{"empty token", "Bearer ", auth.No},
		{"no header", "", auth.Abstain},
		{"basic scheme", "Basic dXNlcjpwYXNz", auth.Abstain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := vote(a, tt.authorization); result.Decision != tt.want {
				t.Errorf("Decision = %d, want %d", result.Decision, tt.want)
			}
		})
	}
}
