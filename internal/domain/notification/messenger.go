package notification

import "context"

// Push is one notification fanned out to every device of a user. Data
// carries the "route" key the apps use to open the right screen.
type Push struct {
	Title string
	Body  string
	Data  map[string]string
}

// Messenger delivers pushes. The FCM client in infrastructure/firebase
// implements it and deactivates tokens the provider rejects.
type Messenger interface {
	SendMulticast(ctx context.Context, tokens []string, push Push) error
}
