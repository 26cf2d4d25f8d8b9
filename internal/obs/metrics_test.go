package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/users/abc/roles":                "/v1/users/:id/roles",
		"/v1/users/abc/authkey":              "/v1/users/:id/authkey",
		"/v1/users/abc/authkey/rotate":       "/v1/users/:id/authkey/rotate",
		"/v1/organizations/o-1/roles":        "/v1/organizations/:id/roles",
		"/v1/webservice":                     "/v1/webservice",
		"/v1/webservice?authkey=xyz":         "/v1/webservice",
		"/v1/roles/options":                  "/v1/roles/options",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
