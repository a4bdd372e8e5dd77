// Package notify delivers consensus alerts and daily reports to the
// configured channel.
package notify

import (
	"context"
	"fmt"
)

// Notifier posts formatted messages.
type Notifier interface {
	// Send posts one message. Implementations must respect ctx.
	Send(ctx context.Context, text string) error
}

// DryRun prints messages to stdout instead of posting them.
type DryRun struct{}

// NewDryRun creates a dry-run notifier.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// Send prints the message that would have been posted.
func (n *DryRun) Send(_ context.Context, text string) error {
	fmt.Println("--- Notification (dry run) ---")
	fmt.Println(text)
	fmt.Printf("\n(Length: %d characters)\n\n", len(text))
	return nil
}
