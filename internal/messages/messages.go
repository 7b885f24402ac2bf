// Package messages holds the user-facing strings of the client and their
// translations. Keys are the English texts; other locales are registered in the
// golang.org/x/text default catalog.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLocale is the locale used when none is configured.
const DefaultLocale = "pt-BR"

const (
	keyInvalidCredentials     = "Invalid credentials. Check your username and password."
	keyRegisterUnauthorized   = "Not authorized. Check your credentials."
	keyLoginSucceeded         = "Signed in successfully"
	keyGoogleFailed           = "Google sign-in failed. Please try again."
	keyGoogleError            = "Error during Google sign-in. Please try again."
	keyGoogleServerError      = "Server error: %d. %s"
	keyGoogleInvalidCred      = "The Google credential could not be verified."
	keyInvalidResponse        = "Invalid server response. Please try again."
	keyHTTPError              = "Request failed with status %d."
	keyServerError            = "The server returned an error (%d). Please try again later."
	keySessionExpired         = "Session expired. Please sign in again."
	keyAuthenticationRequired = "Authentication required. Please sign in."
	keyNoInternet             = "No internet connection"
	keyServerUnreachable      = "Could not connect to the server. Check that the backend is running and try again."
	keyConnectionFailed       = "Connection to the server failed"
	keyInvalidToken           = "The server issued an unreadable token."
	keyStorageError           = "Could not save the session on this device."
	keyUnexpected             = "Something went wrong. Please try again."
)

var brazilianPortuguese = map[string]string{
	keyInvalidCredentials:     "Credenciais inválidas. Verifique seu usuário e senha.",
	keyRegisterUnauthorized:   "Não autorizado. Verifique suas credenciais.",
	keyLoginSucceeded:         "Login realizado com sucesso",
	keyGoogleFailed:           "Login com Google falhou. Tente novamente.",
	keyGoogleError:            "Erro durante login com Google. Tente novamente.",
	keyGoogleServerError:      "Erro no servidor: %d. %s",
	keyGoogleInvalidCred:      "Não foi possível verificar a credencial do Google.",
	keyInvalidResponse:        "Resposta inválida do servidor. Tente novamente.",
	keyHTTPError:              "A requisição falhou com status %d.",
	keyServerError:            "O servidor retornou um erro (%d). Tente novamente mais tarde.",
	keySessionExpired:         "Sessão expirada. Por favor, faça login novamente.",
	keyAuthenticationRequired: "Autenticação necessária. Por favor, faça login.",
	keyNoInternet:             "Sem conexão com a internet",
	keyServerUnreachable:      "Erro de conexão com o servidor. Verifique se o backend está rodando e configurado corretamente.",
	keyConnectionFailed:       "Falha na conexão com o servidor",
	keyInvalidToken:           "O servidor emitiu um token ilegível.",
	keyStorageError:           "Não foi possível salvar a sessão neste dispositivo.",
	keyUnexpected:             "Algo deu errado. Tente novamente.",
}

func init() {
	for key, msg := range brazilianPortuguese {
		_ = message.SetString(language.BrazilianPortuguese, key, msg)
	}
}

// Printer renders user-facing messages in one locale.
type Printer struct {
	p   *message.Printer
	tag language.Tag
}

// New returns a Printer for locale (a BCP 47 tag). Unknown or malformed tags
// fall back to DefaultLocale.
func New(locale string) *Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.MustParse(DefaultLocale)
	}
	return &Printer{p: message.NewPrinter(tag), tag: tag}
}

// Default returns a Printer for DefaultLocale.
func Default() *Printer {
	return New(DefaultLocale)
}

// Locale returns the printer's language tag.
func (p *Printer) Locale() string { return p.tag.String() }

func (p *Printer) InvalidCredentials() string { return p.p.Sprintf(keyInvalidCredentials) }
func (p *Printer) RegisterUnauthorized() string { return p.p.Sprintf(keyRegisterUnauthorized) }
func (p *Printer) LoginSucceeded() string { return p.p.Sprintf(keyLoginSucceeded) }
func (p *Printer) GoogleFailed() string { return p.p.Sprintf(keyGoogleFailed) }
func (p *Printer) GoogleError() string { return p.p.Sprintf(keyGoogleError) }
func (p *Printer) GoogleInvalidCredential() string {
	return p.p.Sprintf(keyGoogleInvalidCred)
}
func (p *Printer) GoogleServerError(status int, body string) string {
	return p.p.Sprintf(keyGoogleServerError, status, body)
}
func (p *Printer) InvalidResponse() string { return p.p.Sprintf(keyInvalidResponse) }
func (p *Printer) HTTPError(status int) string { return p.p.Sprintf(keyHTTPError, status) }
func (p *Printer) ServerError(status int) string { return p.p.Sprintf(keyServerError, status) }
func (p *Printer) SessionExpired() string { return p.p.Sprintf(keySessionExpired) }
func (p *Printer) AuthenticationRequired() string { return p.p.Sprintf(keyAuthenticationRequired) }
func (p *Printer) NoInternet() string { return p.p.Sprintf(keyNoInternet) }
func (p *Printer) ServerUnreachable() string { return p.p.Sprintf(keyServerUnreachable) }
func (p *Printer) ConnectionFailed() string { return p.p.Sprintf(keyConnectionFailed) }
func (p *Printer) InvalidToken() string { return p.p.Sprintf(keyInvalidToken) }
func (p *Printer) StorageError() string { return p.p.Sprintf(keyStorageError) }
func (p *Printer) Unexpected() string { return p.p.Sprintf(keyUnexpected) }
