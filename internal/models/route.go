package models

// Route is the closed set of screens the client can present. It is
// derived purely from session status, never stored remotely.
type Route string

const (
	RouteHome  Route = "home"
	RouteLobby Route = "lobby"
	RouteGame  Route = "game"
)

// RouteForStatus maps a session status to the screen that shows it.
func RouteForStatus(status SessionStatus) Route {
	if status == SessionStatusActive {
		return RouteGame
	}
	return RouteLobby
}
