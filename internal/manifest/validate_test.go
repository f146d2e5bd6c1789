package manifest

import (
	"strings"
	"testing"
)

func intp(v int) *int          { return &v }
func floatp(v float64) *float64 { return &v }

// youTubeSeedManifest reproduces the seed manifest used by the boundary's
// testable-properties scenarios.
func youTubeSeedManifest() *Manifest {
	return &Manifest{
		ID:              "youtube",
		Revision:        1,
		BaseURL:         "https://youtube.googleapis.com",
		AllowedHosts:    []string{"youtube.googleapis.com"},
		RequiredSecrets: []string{"YOUTUBE_API_KEY"},
		Actions: map[string]Action{
			"list_channel_videos": {
				Method:      MethodGET,
				Path:        "/youtube/v3/search",
				RequestMode: RequestModeQuery,
				Auth: AuthSpec{
					Placement:     AuthPlacementQuery,
					Name:          "key",
					SecretBinding: "YOUTUBE_API_KEY",
				},
				Limits: Limits{MaxBodyKb: 8, TimeoutMs: 10000, RatePerMinute: 90},
				InputSchema: InputSchema{
					Type:     "object",
					Required: []string{"channelId"},
					Properties: map[string]Property{
						"channelId":  {Type: PropertyString, MinLength: intp(1), MaxLength: intp(128)},
						"maxResults": {Type: PropertyInteger, Minimum: floatp(1), Maximum: floatp(50)},
					},
				},
			},
		},
	}
}

func TestValidateSeedManifestOK(t *testing.T) {
	res := Validate(youTubeSeedManifest())
	if !res.OK {
		t.Fatalf("expected valid manifest, got errors: %v", res.Errors)
	}
}

func TestValidateRejectsDisallowedHostAfterInterpolation(t *testing.T) {
	m := youTubeSeedManifest()
	action := m.Actions["list_channel_videos"]
	action.Path = "https://not-allowed.com/api"
	m.Actions["list_channel_videos"] = action

	res := Validate(m)
	if res.OK {
		t.Fatal("expected validation failure for disallowed host")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "not in allowedHosts") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a not-in-allowedHosts error, got %v", res.Errors)
	}
}

func TestValidateRejectsHTTPBaseURL(t *testing.T) {
	m := youTubeSeedManifest()
	m.BaseURL = "http://youtube.googleapis.com"
	res := Validate(m)
	if res.OK {
		t.Fatal("expected validation failure for non-HTTPS baseUrl")
	}
}

func TestValidateRejectsSecretBindingNotInRequiredSecrets(t *testing.T) {
	m := youTubeSeedManifest()
	action := m.Actions["list_channel_videos"]
	action.Auth.SecretBinding = "SOME_OTHER_KEY"
	m.Actions["list_channel_videos"] = action

	res := Validate(m)
	if res.OK {
		t.Fatal("expected validation failure for unregistered secret binding")
	}
}

func TestValidateRejectsBadAdapterID(t *testing.T) {
	m := youTubeSeedManifest()
	m.ID = "Invalid_ID!"
	res := Validate(m)
	if res.OK {
		t.Fatal("expected validation failure for invalid adapter id")
	}
}

func TestValidateLimitsBounds(t *testing.T) {
	m := youTubeSeedManifest()
	action := m.Actions["list_channel_videos"]
	action.Limits.MaxBodyKb = 1024
	m.Actions["list_channel_videos"] = action
	if res := Validate(m); !res.OK {
		t.Fatalf("expected 1024 (upper bound) to be accepted: %v", res.Errors)
	}

	action.Limits.MaxBodyKb = 1025
	m.Actions["list_channel_videos"] = action
	if res := Validate(m); res.OK {
		t.Fatal("expected 1025 to be rejected")
	}
}

func TestStableStringifyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": []any{1, 2, 3}}
	b := map[string]any{"a": 2, "c": []any{1, 2, 3}, "b": 1}

	sa, err := StableStringify(a)
	if err != nil {
		t.Fatalf("stringify a: %v", err)
	}
	sb, err := StableStringify(b)
	if err != nil {
		t.Fatalf("stringify b: %v", err)
	}
	if sa != sb {
		t.Fatalf("expected key-order-independent equality, got %q vs %q", sa, sb)
	}
}

func TestStableStringifyManifestRoundTrip(t *testing.T) {
	m1 := youTubeSeedManifest()
	m2 := youTubeSeedManifest()
	s1, err := StableStringify(m1)
	if err != nil {
		t.Fatalf("stringify m1: %v", err)
	}
	s2, err := StableStringify(m2)
	if err != nil {
		t.Fatalf("stringify m2: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected identical manifests to stringify identically")
	}
}
