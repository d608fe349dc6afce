package dpsreport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sydlexius/archarvest/internal/remote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return data
}

func TestDecode_Full(t *testing.T) {
	r, diags, err := Decode(loadFixture(t, "upload_full.json"))
	require.NoError(t, err)
	assert.Empty(t, diags)

	assert.Equal(t, "https://dps.report/abcd-20240101-200000_vg", r.Permalink)
	assert.Equal(t, int64(1704139200), r.UploadTime)
	assert.Equal(t, "tok-123", r.UserToken)
	assert.Nil(t, r.Error, "null error decodes as absent")
	require.NotNil(t, r.Encounter)
	assert.True(t, r.Encounter.Success)
	assert.Equal(t, 15438, r.Encounter.BossID)
	assert.Equal(t, int64(158968), r.Encounter.GW2Build)
	require.NotNil(t, r.Evtc)
	assert.Equal(t, "EVTC", r.Evtc.Type)
	assert.NotEmpty(t, r.Players)

	id, ok := r.BossID()
	assert.True(t, ok)
	assert.Equal(t, 15438, id)
}

func TestDecode_MissingPlayersAndError(t *testing.T) {
	body := []byte(`{"id":"x","permalink":"https://dps.report/x","encounter":{"bossId":1}}`)

	r, diags, err := Decode(body)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Nil(t, r.Players)
	assert.Nil(t, r.Error)
	assert.Equal(t, "", r.ErrorMessage())
	assert.Equal(t, "https://dps.report/x", r.Permalink)
}

func TestDecode_MismatchedFieldsAreDropped(t *testing.T) {
	body := []byte(`{
		"permalink": "https://dps.report/ok",
		"uploadTime": "yesterday",
		"encounter": {"bossId": "vg", "success": true},
		"evtc": [1, 2, 3],
		"somethingNew": {"nested": true}
	}`)

	r, diags, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, "https://dps.report/ok", r.Permalink)
	assert.Zero(t, r.UploadTime)
	require.NotNil(t, r.Encounter)
	assert.True(t, r.Encounter.Success)
	assert.Zero(t, r.Encounter.BossID)
	assert.Nil(t, r.Evtc)

	fields := map[string]bool{}
	for _, d := range diags {
		fields[d.Field] = true
	}
	assert.True(t, fields["uploadtime"])
	assert.True(t, fields["encounter.bossid"])
	assert.True(t, fields["evtc"])
	assert.Len(t, diags, 3)
}

func TestDecode_SnakeCaseKeys(t *testing.T) {
	body := []byte(`{"permalink":"https://dps.report/s","user_token":"snake","encounter":{"boss_id":42,"comp_dps":7}}`)

	r, diags, err := Decode(body)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, "snake", r.UserToken)
	assert.Equal(t, 42, r.Encounter.BossID)
	assert.Equal(t, 7, r.Encounter.CompDPS)
}

func TestDecode_CamelCaseWinsOverSnakeCase(t *testing.T) {
	bodies := []string{
		`{"userToken":"camel","user_token":"snake","encounter":{"boss_id":1,"bossId":2}}`,
		`{"user_token":"snake","userToken":"camel","encounter":{"bossId":2,"boss_id":1}}`,
	}
	for _, body := range bodies {
		// Map iteration order varies between runs, so repeat the decode.
		for range 20 {
			r, _, err := Decode([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, "camel", r.UserToken, body)
			assert.Equal(t, 2, r.Encounter.BossID, body)
		}
	}
}

func TestDecode_ServerError(t *testing.T) {
	r, _, err := Decode([]byte(`{"error":"Encounter is too short for a useful report to be made"}`))
	require.NoError(t, err)
	assert.Empty(t, r.Permalink)
	assert.Equal(t, "Encounter is too short for a useful report to be made", r.ErrorMessage())
}

func TestDecode_NotAnObject(t *testing.T) {
	for _, body := range []string{`<html>502</html>`, `[]`, `null`, ``} {
		_, _, err := Decode([]byte(body))
		var decErr *remote.DecodeError
		assert.True(t, errors.As(err, &decErr), "body %q: expected DecodeError, got %v", body, err)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	rc := remote.NewClient(srv.Client(), remote.Unlimited(), testLogger())
	return New(rc, srv.URL+"/getUserToken", srv.URL+"/uploadContent", testLogger())
}

func TestGetToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUserToken" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"userToken":"abc"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	tok, err := newTestClient(t, srv).GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value)
}

func TestGetToken_DecodeFailures(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"userToken": 12}`, `{"userToken": ""}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(body)) //nolint:errcheck
		}))

		_, err := newTestClient(t, srv).GetToken(context.Background())
		var decErr *remote.DecodeError
		assert.True(t, errors.As(err, &decErr), "body %q: expected DecodeError, got %v", body, err)
		srv.Close()
	}
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fight1.evtc")
	require.NoError(t, os.WriteFile(path, []byte("EVTC20240101"), 0o644))

	var gotToken, gotJSON, gotName, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/uploadContent" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotToken = r.URL.Query().Get("userToken")
		gotJSON = r.URL.Query().Get("json")
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName = header.Filename
		gotContent = string(data)
		w.Write(loadFixture(t, "upload_full.json")) //nolint:errcheck
	}))
	defer srv.Close()

	r, diags, err := newTestClient(t, srv).Upload(context.Background(), path, Token{Value: "tok"})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, "1", gotJSON)
	assert.Equal(t, "fight1.evtc", gotName)
	assert.Equal(t, "EVTC20240101", gotContent)
	assert.Equal(t, "https://dps.report/abcd-20240101-200000_vg", r.Permalink)
}

func TestUpload_HTTPFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fight1.evtc")
	require.NoError(t, os.WriteFile(path, []byte("EVTC"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r, _, err := newTestClient(t, srv).Upload(context.Background(), path, Token{Value: "tok"})
	assert.Nil(t, r, "no partial result on HTTP failure")
	var netErr *remote.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusForbidden, netErr.StatusCode)
}

func TestUpload_TransportFailureHidesToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fight1.evtc")
	require.NoError(t, os.WriteFile(path, []byte("EVTC"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	c := newTestClient(t, srv)
	srv.Close()

	_, _, err := c.Upload(context.Background(), path, Token{Value: "SECRETTOKEN"})
	var netErr *remote.NetworkError
	require.True(t, errors.As(err, &netErr), "expected *NetworkError, got %T (%v)", err, err)
	assert.Zero(t, netErr.StatusCode)
	assert.NotContains(t, err.Error(), "SECRETTOKEN")
}

func TestUpload_MissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for a missing file")
	}))
	defer srv.Close()

	_, _, err := newTestClient(t, srv).Upload(context.Background(), filepath.Join(t.TempDir(), "gone.evtc"), Token{Value: "tok"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
