package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/mirror/internal/core"
)

func newTestDriver(t *testing.T, handler http.HandlerFunc) (*Driver, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	hosts := &core.HostConfig{
		APIs:        map[string]string{"github.com": server.URL},
		Credentials: map[string]core.Credential{"github.com": {Token: "secret"}},
	}
	d, err := New("https://github.com/acme/widget.git", hosts, core.DefaultClient())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d.(*Driver), server
}

func TestSupports(t *testing.T) {
	def := Definition()
	hosts := &core.HostConfig{Domains: map[string][]string{"github": {"github.example.com"}}}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/acme/widget", true},
		{"https://www.github.com/acme/widget", true},
		{"https://github.com/acme/widget.git", true},
		{"http://github.com/acme/widget", true},
		{"git://github.com/acme/widget.git", true},
		{"git@github.com:acme/widget.git", true},
		{"ssh://git@github.com/acme/widget.git", true},
		{"https://github.example.com/acme/widget", true},
		{"https://gitlab.com/acme/widget", false},
		{"https://bitbucket.org/acme/widget", false},
		{"https://github.com/acme/widget/tree/main", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := def.Supports(hosts, tt.url); got != tt.want {
				t.Errorf("Supports(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	var gotAuth string
	d, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(404)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"default_branch":"main","clone_url":"https://github.com/acme/widget.git"}`))
	})

	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if d.RootIdentifier() != "main" {
		t.Errorf("RootIdentifier() = %q, want main", d.RootIdentifier())
	}
	if gotAuth != "token secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "token secret")
	}
}

func TestInitializeNotFound(t *testing.T) {
	d, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	})

	err := d.Initialize(context.Background())
	if !core.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if core.IsTransient(err) {
		t.Error("NotFound must not be transient")
	}
}

func TestBranchesPagination(t *testing.T) {
	var serverURL string
	d, server := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget/branches" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(404)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`[{"name":"feature","commit":{"sha":"bbb"}}]`))
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widget/branches?per_page=100&page=2>; rel="next"`, serverURL))
		_, _ = w.Write([]byte(`[{"name":"main","commit":{"sha":"aaa"}}]`))
	})
	serverURL = server.URL

	branches, err := d.Branches(context.Background())
	if err != nil {
		t.Fatalf("Branches failed: %v", err)
	}
	want := map[string]string{"main": "aaa", "feature": "bbb"}
	if len(branches) != len(want) {
		t.Fatalf("got %d branches, want %d: %v", len(branches), len(want), branches)
	}
	for name, sha := range want {
		if branches[name] != sha {
			t.Errorf("branches[%q] = %q, want %q", name, branches[name], sha)
		}
	}
}

func TestTags(t *testing.T) {
	d, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"v1.0.0","commit":{"sha":"c1"}},{"name":"1.1.0","commit":{"sha":"c2"}}]`))
	})

	tags, err := d.Tags(context.Background())
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if tags["v1.0.0"] != "c1" || tags["1.1.0"] != "c2" {
		t.Errorf("unexpected tags: %v", tags)
	}
}

func TestComposerInformation(t *testing.T) {
	manifest := `{"name":"acme/widget","require":{"php":">=8.1"}}`
	d, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget/contents/composer.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("ref") != "abc123" {
			t.Errorf("ref = %q", r.URL.Query().Get("ref"))
		}
		_ = json.NewEncoder(w).Encode(contentsResponse{
			Content:  base64.StdEncoding.EncodeToString([]byte(manifest)),
			Encoding: "base64",
		})
	})

	m, err := d.ComposerInformation(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("ComposerInformation failed: %v", err)
	}
	if m.Name() != "acme/widget" {
		t.Errorf("Name() = %q", m.Name())
	}
}

func TestComposerInformationMissing(t *testing.T) {
	d, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	})

	m, err := d.ComposerInformation(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("missing composer.json should not be an error, got %v", err)
	}
	if m != nil {
		t.Errorf("expected nil manifest, got %v", m)
	}
}

func TestComposerInformationServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	repo := core.RepoURL{Host: "github.com", Owner: "acme", Repo: "widget"}
	d := NewDriver("https://github.com/acme/widget", repo, server.URL, core.NewClient(core.WithMaxRetries(0)))

	_, err := d.ComposerInformation(context.Background(), "abc123")
	if !core.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSourceAndDist(t *testing.T) {
	repo := core.RepoURL{Host: "github.com", Owner: "acme", Repo: "widget"}
	d := NewDriver("git@github.com:acme/widget.git", repo, DefaultAPIURL, core.DefaultClient())

	src := d.Source("abc123")
	if src.Type != "git" || src.URL != "https://github.com/acme/widget.git" || src.Reference != "abc123" {
		t.Errorf("unexpected source: %+v", src)
	}

	dist := d.Dist("abc123")
	if dist == nil {
		t.Fatal("expected dist")
	}
	if dist.Type != "zip" || dist.URL != "https://api.github.com/repos/acme/widget/zipball/abc123" {
		t.Errorf("unexpected dist: %+v", dist)
	}

	urls := core.BuildURLs(d.URLs(), "abc123")
	if urls["home"] != "https://github.com/acme/widget" {
		t.Errorf("home = %q", urls["home"])
	}
}

func TestEnterpriseAPIURL(t *testing.T) {
	hosts := &core.HostConfig{Domains: map[string][]string{"github": {"github.example.com"}}}
	d, err := New("https://github.example.com/acme/widget", hosts, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := d.(*Driver).apiURL; got != "https://github.example.com/api/v3" {
		t.Errorf("apiURL = %q", got)
	}
}
