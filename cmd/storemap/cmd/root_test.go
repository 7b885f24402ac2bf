package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-storemap-client/api"
	"github.com/jrsteele09/go-storemap-client/internal/backendfake"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "-q", "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestCommandsAgainstFakeBackend(t *testing.T) {
	fake := backendfake.New(
		backendfake.WithUser(backendfake.User{UserName: "dave", Password: "pw", Name: "Dave", Roles: []string{"User"}}),
		backendfake.WithBrands("Acme"),
	)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	t.Setenv("STOREMAP_API_URLS", srv.URL+"/api")
	t.Setenv("STOREMAP_DATA_FOLDER", t.TempDir())
	t.Setenv("STOREMAP_LOCALE", "en")
	t.Setenv("STOREMAP_RETRY_DELAY", "1ms")

	require.Contains(t, execute(t, "login", "-u", "dave", "-p", "pw"), "Signed in as Dave")
	require.Contains(t, execute(t, "whoami"), "Username: dave")

	require.Contains(t, execute(t, "stores", "create", "--name", "Bakery", "--payment", "pix,cash"), "created Bakery")
	require.Len(t, fake.Stores(), 1)
	require.Equal(t, []api.PaymentCondition{api.PaymentPix, api.PaymentCash}, fake.Stores()[0].PaymentConditions)

	listing := execute(t, "stores", "list")
	require.Contains(t, listing, "Bakery")
	require.Contains(t, listing, "Pix,Cash")
	require.Contains(t, execute(t, "brands"), "Acme")

	require.Contains(t, execute(t, "logout"), "signed out")
	require.Contains(t, execute(t, "status"), "Authenticated: false")
}

func TestStoreRequestRejectsUnknownPayment(t *testing.T) {
	storePayments = []string{"barter"}
	defer func() { storePayments = nil }()

	_, err := storeRequest()
	require.Error(t, err)
}

func TestOptional(t *testing.T) {
	require.Nil(t, optional("  "))
	require.Equal(t, "x", *optional(" x "))
}
