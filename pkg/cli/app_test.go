package cli

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/photoguard/pkg/auth"
	"github.com/mchmarny/photoguard/pkg/data"
	"github.com/mchmarny/photoguard/pkg/logging"
	"github.com/mchmarny/photoguard/pkg/moderation"
	"github.com/mchmarny/photoguard/pkg/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"github.com/zalando/go-keyring"
)

var (
	skinColor = color.NRGBA{R: 200, G: 130, B: 110, A: 255}
	blueColor = color.NRGBA{R: 0, G: 0, B: 255, A: 255}
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	logging.SetDefaultCLILogger("error")
	os.Exit(m.Run())
}

func pngBytes(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writePNG(t *testing.T, dir, name string, c color.NRGBA) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, pngBytes(t, c), 0600))
	return p
}

// setupHome points the app home dir at a temp dir.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*urfave.Context, error) {}
	err := app.Run(append([]string{appName}, args...))
	return out.String(), err
}

func TestNewApp(t *testing.T) {
	app := newApp()
	assert.Equal(t, appName, app.Name)

	names := make([]string, 0, len(app.Commands))
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{
		"scan", "upload", "list", "show", "rescan", "delete", "state", "auth", "reset", "server",
	}, names)
}

func TestOutputFormat(t *testing.T) {
	assert.Equal(t, formatYAML, outputFormat("yaml"))
	assert.Equal(t, formatYAML, outputFormat("yml"))
	assert.Equal(t, formatJSON, outputFormat("json"))
	assert.Equal(t, formatJSON, outputFormat("xml"))
}

func TestScan_Files(t *testing.T) {
	setupHome(t)
	dir := t.TempDir()
	skin := writePNG(t, dir, "skin.png", skinColor)
	blue := writePNG(t, dir, "blue.png", blueColor)

	out, err := runApp(t, "", "scan", "--concurrency", "2", skin, blue)
	require.NoError(t, err)

	var res []*ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res, 2)

	assert.Equal(t, skin, res[0].Source)
	assert.True(t, res[0].Sensitive)
	assert.Equal(t, 1.0, res[0].Score)
	assert.True(t, res[0].Moderation.ShouldBlur())

	assert.Equal(t, blue, res[1].Source)
	assert.False(t, res[1].Sensitive)
	assert.Equal(t, moderation.StatusPending, res[1].Moderation.ModerationStatus)
}

func TestScan_Base64Stdin(t *testing.T) {
	setupHome(t)
	payload := base64.StdEncoding.EncodeToString(pngBytes(t, skinColor))

	out, err := runApp(t, payload+"\n", "scan", "--base64", "-", "--mime", "image/png")
	require.NoError(t, err)

	var res []*ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res, 1)
	assert.True(t, res[0].Sensitive)
}

func TestScan_URL(t *testing.T) {
	setupHome(t)
	b := pngBytes(t, skinColor)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	out, err := runApp(t, "", "scan", "--url", srv.URL+"/p.png", "--token", "tok")
	require.NoError(t, err)

	var res []*ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res, 1)
	assert.True(t, res[0].Sensitive)
}

func TestScan_Errors(t *testing.T) {
	setupHome(t)

	_, err := runApp(t, "", "scan")
	assert.Error(t, err)

	_, err = runApp(t, "", "scan", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestPhotoCommands(t *testing.T) {
	setupHome(t)
	dir := t.TempDir()
	skin := writePNG(t, dir, "skin.png", skinColor)
	blue := writePNG(t, dir, "blue.png", blueColor)

	out, err := runApp(t, "", "upload", "--owner", "alice", skin)
	require.NoError(t, err)
	var flagged upload.Result
	require.NoError(t, json.Unmarshal([]byte(out), &flagged))
	require.NotNil(t, flagged.Photo)
	assert.True(t, flagged.Photo.Moderation.ShouldBlur())

	out, err = runApp(t, "", "upload", "--owner", "alice", "--kind", "message", "--conversation", "c1", blue)
	require.NoError(t, err)
	var clean upload.Result
	require.NoError(t, json.Unmarshal([]byte(out), &clean))
	assert.Equal(t, moderation.StatusPending, clean.Photo.Moderation.ModerationStatus)

	// message photo without a conversation is rejected
	_, err = runApp(t, "", "upload", "--owner", "alice", "--kind", "message", blue)
	assert.ErrorIs(t, err, upload.ErrInvalidRequest)

	out, err = runApp(t, "", "list", "--status", "flagged")
	require.NoError(t, err)
	var list []*data.Photo
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, flagged.Photo.ID, list[0].ID)

	_, err = runApp(t, "", "list", "--status", "approved")
	assert.Error(t, err)

	out, err = runApp(t, "", "show", clean.Photo.ID)
	require.NoError(t, err)
	var shown data.Photo
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "c1", shown.ConversationID)

	out, err = runApp(t, "", "state")
	require.NoError(t, err)
	var state map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, int64(2), state["photos"])
	assert.Equal(t, int64(1), state["flagged_photos"])

	out, err = runApp(t, "", "rescan", "--all", "--owner", "alice")
	require.NoError(t, err)
	var sum upload.RescanSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 0, sum.Changed)

	_, err = runApp(t, "", "rescan")
	assert.Error(t, err)

	_, err = runApp(t, "", "delete", flagged.Photo.ID)
	require.NoError(t, err)

	_, err = runApp(t, "", "show", flagged.Photo.ID)
	assert.ErrorIs(t, err, data.ErrNotFound)
}

func TestFormatYAML(t *testing.T) {
	setupHome(t)

	out, err := runApp(t, "", "--format", "yaml", "state")
	require.NoError(t, err)
	assert.Contains(t, out, "photos: 0")
}

func TestConfigFlag(t *testing.T) {
	setupHome(t)
	dir := t.TempDir()
	skin := writePNG(t, dir, "skin.png", skinColor)

	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("classifier:\n  min_sampled_pixels: 100000\n"), 0600))

	out, err := runApp(t, "", "--config", cfgPath, "scan", skin)
	require.NoError(t, err)

	var res []*ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res, 1)
	assert.False(t, res[0].Sensitive)
	assert.Equal(t, 1.0, res[0].Score)
}

func TestAuth(t *testing.T) {
	home := setupHome(t)
	secrets := auth.NewSecretStore(filepath.Join(home, "."+appName))

	_, err := runApp(t, "s3cr3t\n", "auth", "--secret", "s3")
	require.NoError(t, err)

	v, err := secrets.Get(secretS3Key)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)

	_, err = runApp(t, "", "auth", "--secret", "s3", "--remove")
	require.NoError(t, err)
	_, err = secrets.Get(secretS3Key)
	assert.ErrorIs(t, err, auth.ErrSecretNotFound)

	_, err = runApp(t, "\n", "auth", "--secret", "fetch")
	assert.Error(t, err)

	_, err = runApp(t, "x\n", "auth", "--secret", "github")
	assert.Error(t, err)
}

func TestFetchToken(t *testing.T) {
	home := setupHome(t)

	_, err := runApp(t, "tok\n", "auth", "--secret", "fetch")
	require.NoError(t, err)

	cfg := &appConfig{
		Config:  testConfig(t, home),
		Secrets: auth.NewSecretStore(filepath.Join(home, "."+appName)),
	}
	assert.Equal(t, "tok", cfg.FetchToken())

	cfg.Config.Upload.FetchToken = "env-token"
	assert.Equal(t, "env-token", cfg.FetchToken())
}

func TestReset(t *testing.T) {
	setupHome(t)
	dir := t.TempDir()
	blue := writePNG(t, dir, "blue.png", blueColor)

	_, err := runApp(t, "", "upload", "--owner", "alice", blue)
	require.NoError(t, err)

	out, err := runApp(t, "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	out, err = runApp(t, "", "state")
	require.NoError(t, err)
	assert.Contains(t, out, `"photos": 1`)

	out, err = runApp(t, "", "reset", "--yes", "--objects")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset complete.")

	out, err = runApp(t, "", "state")
	require.NoError(t, err)
	assert.Contains(t, out, `"photos": 0`)
}
