package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-storemap-client/internal/backendfake"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	mockAddr     string
	mockUser     string
	mockPassword string
	mockTokenTTL time.Duration
	mockBrands   []string
)

var mockBackendCmd = &cobra.Command{
	Use:   "mock-backend",
	Short: "Serve an in-memory storemap backend for local development",
	Long: `Serves the authentication, store and brand routes under /api on --addr.
Point STOREMAP_API_URLS at http://<addr>/api to use it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fake := backendfake.New(
			backendfake.WithUser(backendfake.User{UserName: mockUser, Password: mockPassword, Roles: []string{"Admin", "User"}}),
			backendfake.WithTokenTTL(mockTokenTTL),
			backendfake.WithBrands(mockBrands...),
		)
		server := &http.Server{Addr: mockAddr, Handler: fake, ReadHeaderTimeout: 10 * time.Second}

		errc := make(chan error, 1)
		go func() {
			errc <- listenAndServe(server)
		}()

		select {
		case err := <-errc:
			return err
		case <-cmd.Context().Done():
		}
		return shutdown(server)
	},
}

func init() {
	mockBackendCmd.Flags().StringVar(&mockAddr, "addr", "127.0.0.1:7240", "listen address")
	mockBackendCmd.Flags().StringVar(&mockUser, "user", "admin", "seeded account name")
	mockBackendCmd.Flags().StringVar(&mockPassword, "password", "admin", "seeded account password")
	mockBackendCmd.Flags().DurationVar(&mockTokenTTL, "token-ttl", backendfake.DefaultTokenTTL, "access token lifetime")
	mockBackendCmd.Flags().StringSliceVar(&mockBrands, "brand", []string{"Acme", "Globex", "Initech"}, "seeded brand names")
	rootCmd.AddCommand(mockBackendCmd)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("mock backend listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	log.Info().Msg("mock backend stopped")
	return nil
}
