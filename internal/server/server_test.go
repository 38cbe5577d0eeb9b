package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/emattiza/nix-runner/internal/testutil"
	"github.com/emattiza/nix-runner/internal/tlsutil"
)

func TestServerParseFlow(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, true)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	e := httpexpect.Default(t, ts.URL)

	e.GET("/status").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("type", "parser").
		HasValue("state", "ready").
		HasValue("history", true).
		ContainsKey("uptime_seconds")

	parsed := e.POST("/parse").
		WithText(sampleScript).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	parsed.Value("config").Object().
		HasValue("pure", true).
		HasValue("command", "bash")
	parsed.Value("directives").Array().Length().IsEqual(4)
	parsed.Value("body").String().IsEqual("jq --version\n")

	e.POST("/parse").
		WithText("#!nix-runner\n#!registry nixpkgs\n\n").
		Expect().
		Status(http.StatusUnprocessableEntity).
		JSON().Object().
		HasValue("error", "malformed_argument").
		HasValue("line", 2).
		HasValue("text", "#!registry nixpkgs")

	e.POST("/plan").
		WithQuery("backend", "legacy").
		WithQuery("script", "/srv/check.sh").
		WithText(sampleScript).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("backend", "legacy").
		Value("argv").Array().Value(0).String().IsEqual("nix-shell")

	e.GET("/status").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("parses", 3).
		HasValue("failures", 1)

	e.GET("/history").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("total", 0)
}

func TestServerStartTLS(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, false)
	s.settings.Server.Port = testutil.AllocateTestPort(t)
	s.settings.Server.TLSCert = filepath.Join(dir, "cert.pem")
	s.settings.Server.TLSKey = filepath.Join(dir, "key.pem")

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	url := fmt.Sprintf("https://%s", s.Addr())
	client := tlsutil.NewHTTPClient(2 * time.Second)
	testutil.WaitForHealthy(t, client, url+"/status", 10*time.Second)
	require.True(t, tlsutil.FileExists(s.settings.Server.TLSCert))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.True(t, s.stopping.Load())

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStartInsecure(t *testing.T) {
	s := newTestServer(t, false)
	s.insecure = true
	s.settings.Server.Port = testutil.AllocateTestPort(t)

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	url := fmt.Sprintf("http://%s", s.Addr())
	testutil.WaitForHealthy(t, http.DefaultClient, url+"/status", 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errc)
}
