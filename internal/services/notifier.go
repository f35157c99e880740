package services

import "context"

// Notifier fans a text message out to live subscribers. Delivery is best
// effort: implementations never report per-subscriber failures.
type Notifier interface {
	Broadcast(ctx context.Context, message string) int
}

// FulfilledMessage is the notification text for a fulfilled request.
func FulfilledMessage(title string) string {
	return "Script request '" + title + "' has been fulfilled!"
}
