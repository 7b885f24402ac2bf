package auth

import (
	"encoding/json"
	"io"
	"strings"

	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxResponseBody = 1 << 20

// Credentials is the body of the login and register calls.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is returned by Login and GoogleLogin. A credential failure is a
// result with Success false, never an error.
type LoginResult struct {
	Success      bool
	Token        string
	RefreshToken string
	Message      string
	// Raw is the decoded server body, nil when the server was not reached.
	Raw map[string]any
}

// RegisterResult is the server's registration answer.
type RegisterResult struct {
	Success bool
	Message string
	Raw     map[string]any
}

// flexBool accepts true, "true", false, "false" and records whether the field was present.
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	if s == "null" {
		*b = flexBool{}
		return nil
	}
	b.set = true
	b.value = s == "true" || s == "1"
	return nil
}

// tokenResponse covers every shape the backend has used for token-issuing calls.
// The canonical shape is {success, token, refreshToken, message}.
type tokenResponse struct {
	Success      flexBool `json:"success"`
	Token        string   `json:"token"`
	AccessToken  string   `json:"accessToken"`
	JWT          string   `json:"jwt"`
	OAuthToken   string   `json:"access_token"`
	RefreshToken string   `json:"refreshToken"`
	OAuthRefresh string   `json:"refresh_token"`
	Message      string   `json:"message"`

	raw map[string]any
}

// accessToken returns the first recognized token field and the field name it came from.
func (r *tokenResponse) accessToken() (string, string) {
	switch {
	case r.Token != "":
		return r.Token, "token"
	case r.AccessToken != "":
		return r.AccessToken, "accessToken"
	case r.JWT != "":
		return r.JWT, "jwt"
	case r.OAuthToken != "":
		return r.OAuthToken, "access_token"
	default:
		return "", ""
	}
}

func (r *tokenResponse) refreshToken() string {
	if r.RefreshToken != "" {
		return r.RefreshToken
	}
	return r.OAuthRefresh
}

// succeeded is true when a token is present and success is true or absent.
// An explicit success=false wins over a token.
func (r *tokenResponse) succeeded() bool {
	tok, _ := r.accessToken()
	if tok == "" {
		return false
	}
	return !r.Success.set || r.Success.value
}

func (r *tokenResponse) loginResult() *LoginResult {
	tok, _ := r.accessToken()
	return &LoginResult{
		Success:      r.succeeded(),
		Token:        tok,
		RefreshToken: r.refreshToken(),
		Message:      r.Message,
		Raw:          r.raw,
	}
}

// decodeTokenResponse rejects bodies that are not JSON objects and logs
// responses that use a non-canonical dialect.
func decodeTokenResponse(route string, body io.Reader) (*tokenResponse, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBody))
	if err != nil {
		return nil, errors.Wrap(err, "[decodeTokenResponse] reading body")
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errs.ErrUnrecognizedResponse, err.Error())
	}
	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(errs.ErrUnrecognizedResponse, err.Error())
	}
	resp.raw = raw

	if _, field := resp.accessToken(); field != "" && field != "token" {
		log.Warn().Str("route", route).Str("field", field).Msg("server returned a non-canonical token field")
	}
	if !resp.Success.set {
		if tok, _ := resp.accessToken(); tok != "" {
			log.Warn().Str("route", route).Msg("server omitted the success flag; accepting token presence")
		}
	}
	return &resp, nil
}

func decodeRegisterResponse(body io.Reader) (*RegisterResult, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBody))
	if err != nil {
		return nil, errors.Wrap(err, "[decodeRegisterResponse] reading body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return &RegisterResult{Success: true}, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errs.ErrUnrecognizedResponse, err.Error())
	}
	var parsed struct {
		Success flexBool `json:"success"`
		Message string   `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(errs.ErrUnrecognizedResponse, err.Error())
	}
	return &RegisterResult{
		Success: !parsed.Success.set || parsed.Success.value,
		Message: parsed.Message,
		Raw:     raw,
	}, nil
}
