package auth

import (
	"context"
	"io"
	"net/http"
	"strings"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Login posts the credentials and, when the server issues a token, commits the
// session and schedules its refresh. A 401 is reported as a failed result.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	resp, err := m.post(ctx, RouteLogin, creds, nil)
	if err != nil {
		return nil, m.userError(m.printer.ConnectionFailed(), errors.Wrap(err, "[Manager.Login]"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		log.Info().Str("username", creds.Username).Msg("login rejected")
		return &LoginResult{Message: m.printer.InvalidCredentials()}, nil
	}
	if !isSuccess(resp.StatusCode) {
		return nil, m.httpError(resp)
	}

	parsed, err := decodeTokenResponse(RouteLogin, resp.Body)
	if err != nil {
		return nil, errs.NewUserError(m.printer.InvalidResponse(), err)
	}
	result := parsed.loginResult()
	if !result.Success {
		if result.Message == "" {
			result.Message = m.printer.InvalidCredentials()
		}
		return result, nil
	}

	if err := m.establish(result.Token, result.RefreshToken, nil); err != nil {
		if errors.Is(err, errs.ErrInvalidToken) {
			log.Err(err).Msg("login returned an undecodable token")
			return &LoginResult{Message: m.printer.InvalidToken(), Raw: result.Raw}, nil
		}
		return nil, errs.NewUserError(m.printer.StorageError(), err)
	}
	if result.Message == "" {
		result.Message = m.printer.LoginSucceeded()
	}
	log.Info().Str("username", creds.Username).Msg("logged in")
	return result, nil
}

// Register creates an account. It never establishes a session.
func (m *Manager) Register(ctx context.Context, creds Credentials) (*RegisterResult, error) {
	resp, err := m.post(ctx, RouteRegister, creds, nil)
	if err != nil {
		return nil, m.userError(m.printer.ConnectionFailed(), errors.Wrap(err, "[Manager.Register]"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		log.Info().Str("username", creds.Username).Msg("registration rejected")
		return &RegisterResult{Message: m.printer.RegisterUnauthorized()}, nil
	}
	if !isSuccess(resp.StatusCode) {
		return nil, m.httpError(resp)
	}

	result, err := decodeRegisterResponse(resp.Body)
	if err != nil {
		return nil, errs.NewUserError(m.printer.InvalidResponse(), err)
	}
	return result, nil
}

// GoogleLogin exchanges a Google ID token for a session. Every server, transport
// or credential problem is a failed result; the error is reserved for local
// storage failures.
func (m *Manager) GoogleLogin(ctx context.Context, credential string) (*LoginResult, error) {
	provider, ok := m.providerProfile(ctx, credential)
	if !ok {
		return &LoginResult{Message: m.printer.GoogleInvalidCredential()}, nil
	}

	resp, err := m.post(ctx, RouteGoogleLogin, map[string]string{"IdToken": credential}, nil)
	if err != nil {
		log.Err(err).Msg("google login request failed")
		return &LoginResult{Message: errs.UserMessage(err, m.printer.GoogleError())}, nil
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body := readSnippet(resp.Body)
		log.Warn().Int("status", resp.StatusCode).Str("body", body).Msg("google login returned an error status")
		return &LoginResult{Message: m.printer.GoogleServerError(resp.StatusCode, body)}, nil
	}

	parsed, err := decodeTokenResponse(RouteGoogleLogin, resp.Body)
	if err != nil {
		log.Err(err).Msg("decoding google login response")
		return &LoginResult{Message: m.printer.InvalidResponse()}, nil
	}
	result := parsed.loginResult()
	if !result.Success {
		if result.Message == "" {
			result.Message = m.printer.GoogleFailed()
		}
		return result, nil
	}

	if err := m.establish(result.Token, result.RefreshToken, provider); err != nil {
		if errors.Is(err, errs.ErrInvalidToken) {
			log.Err(err).Msg("google login returned an undecodable token")
			return &LoginResult{Message: m.printer.InvalidToken(), Raw: result.Raw}, nil
		}
		return nil, errs.NewUserError(m.printer.StorageError(), err)
	}
	if result.Message == "" {
		result.Message = m.printer.LoginSucceeded()
	}
	log.Info().Msg("logged in with google")
	return result, nil
}

// providerProfile verifies the credential when a verifier is configured and
// otherwise decodes it. Without a verifier an undecodable credential is still
// sent to the server, which has the final word.
func (m *Manager) providerProfile(ctx context.Context, credential string) (*token.UserProfile, bool) {
	if strings.TrimSpace(credential) == "" {
		return nil, false
	}
	if m.verifier == nil {
		p, err := m.codec.ProviderProfile(credential)
		if err != nil {
			log.Debug().Err(err).Msg("google credential not decodable locally")
			return nil, true
		}
		return p, true
	}

	idToken, err := m.verifier.Verify(ctx, credential)
	if err != nil {
		log.Err(err).Msg("google credential failed verification")
		return nil, false
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		log.Err(err).Msg("reading google credential claims")
		return nil, false
	}
	return token.ProfileFromClaims(claims), true
}

// Logout stops the auto-refresh, tells the server on a best-effort basis and
// always clears the local session.
func (m *Manager) Logout(ctx context.Context) {
	m.StopAutoRefresh()

	sess, err := m.store.Load()
	if err != nil {
		log.Err(err).Msg("reading session for logout")
	}
	if sess.AccessToken != "" {
		lctx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
		header := http.Header{}
		header.Set("Authorization", "Bearer "+sess.AccessToken)
		resp, err := m.post(lctx, RouteLogout, map[string]string{"refreshToken": sess.RefreshToken}, header)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		case !isSuccess(resp.StatusCode):
			log.Warn().Int("status", resp.StatusCode).Msg("server logout returned an error status")
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()
	}

	m.clearSession("logout")
}

// establish commits a session issued by a login call. It replaces whatever
// session was stored, including one a concurrent refresh is working on.
func (m *Manager) establish(access, refresh string, provider *token.UserProfile) error {
	for {
		err := m.commit(m.currentGeneration(), access, refresh, provider, commitLogin)
		if !errors.Is(err, errStaleSession) {
			return err
		}
	}
}

func (m *Manager) httpError(resp *http.Response) error {
	body := readSnippet(resp.Body)
	return errs.NewUserError(m.printer.HTTPError(resp.StatusCode), &errs.StatusError{StatusCode: resp.StatusCode, Body: body})
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
