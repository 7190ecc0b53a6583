package pubsub

import (
	"context"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// newClient uses the credentials file when given, else application default
// credentials.
func newClient(ctx context.Context, projectID, credsFile string) (*gpubsub.Client, error) {
	if credsFile != "" {
		log.Debug().Str("projectID", projectID).Str("credsFile", credsFile).Msg("pubsub: creating client with explicit credentials")
		return gpubsub.NewClient(ctx, projectID, option.WithCredentialsFile(credsFile))
	}
	log.Debug().Str("projectID", projectID).Msg("pubsub: creating client with default credentials")
	return gpubsub.NewClient(ctx, projectID)
}
