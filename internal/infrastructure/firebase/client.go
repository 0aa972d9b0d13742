package firebase

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"tradstry/internal/domain/notification"
)

const fcmBatchLimit = 500

var _ notification.Messenger = (*Client)(nil)

// TokenDeactivator marks a token FCM rejected as inactive.
type TokenDeactivator func(ctx context.Context, token string) error

// Client pushes sync and review notifications through Firebase Cloud Messaging.
type Client struct {
	msgClient   *messaging.Client
	deactivator TokenDeactivator
}

// NewClient initializes a Firebase app from a service account file.
// deactivator may be nil.
func NewClient(ctx context.Context, credentialsFile string, deactivator TokenDeactivator) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Client{msgClient: msgClient, deactivator: deactivator}, nil
}

// SendMulticast pushes to many devices in batches of the FCM limit. Tokens
// FCM reports as unregistered are deactivated.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, push notification.Push) error {
	var success, failure int
	for _, batch := range chunkTokens(tokens, fcmBatchLimit) {
		resp, err := c.msgClient.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: push.Title, Body: push.Body},
			Data:         push.Data,
			APNS:         apnsFor(push.Data),
		})
		if err != nil {
			return fmt.Errorf("failed to send FCM multicast: %w", err)
		}

		success += resp.SuccessCount
		failure += resp.FailureCount
		for i, r := range resp.Responses {
			if r.Error == nil {
				continue
			}
			if invalidToken(r.Error) {
				c.deactivateToken(ctx, batch[i])
				continue
			}
			log.Printf("FCM send error for token %d of batch: %v", i, r.Error)
		}
	}

	if len(tokens) > 0 {
		log.Printf("FCM multicast: %d success, %d failure", success, failure)
	}
	return nil
}

// apnsFor groups notifications of the same route in the iOS notification
// center.
func apnsFor(data map[string]string) *messaging.APNSConfig {
	route := data["route"]
	if route == "" {
		return nil
	}
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{ThreadID: route},
		},
	}
}

func invalidToken(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
}

func (c *Client) deactivateToken(ctx context.Context, token string) {
	log.Printf("Deactivating rejected FCM token %s", token)
	if c.deactivator == nil {
		return
	}
	if err := c.deactivator(ctx, token); err != nil {
		log.Printf("Failed to deactivate FCM token %s: %v", token, err)
	}
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for len(tokens) > 0 {
		n := min(size, len(tokens))
		chunks = append(chunks, tokens[:n])
		tokens = tokens[n:]
	}
	return chunks
}
