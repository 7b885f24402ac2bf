package auth

// Backend routes relative to the API base URL.
const (
	RouteLogin        = "/Authentication/login"
	RouteRegister     = "/Authentication/register"
	RouteGoogleLogin  = "/Authentication/login/google"
	RouteRefreshToken = "/Authentication/refresh-token"
	RouteLogout       = "/Authentication/logout"
)
