package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/requests":                        "/v1/requests",
		"/v1/requests/abc":                    "/v1/requests/:id",
		"/v1/requests/pending":                "/v1/requests/pending",
		"/v1/requests/items/abc/approve":      "/v1/requests/items/:id/approve",
		"/v1/requests/items/abc/reject":       "/v1/requests/items/:id/reject",
		"/v1/requests/items/abc/provision":    "/v1/requests/items/:id/provision",
		"/v1/requests/items/provision-bulk":   "/v1/requests/items/provision-bulk",
		"/v1/grants":                          "/v1/grants",
		"/v1/grants/abc":                      "/v1/grants/:id",
		"/v1/grants/abc/mark-removal":         "/v1/grants/:id/mark-removal",
		"/v1/grants/abc/remove":               "/v1/grants/:id/remove",
		"/v1/users/abc/grants":                "/v1/users/:id/grants",
		"/v1/users/abc/copy-grants":           "/v1/users/:id/copy-grants",
		"/v1/users/abc/other":                 "/v1/users/abc/other",
		"/v1/audit?limit=10":                  "/v1/audit",
		"/v1/requests/items/abc/unknown-verb": "/v1/requests/items/abc/unknown-verb",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
