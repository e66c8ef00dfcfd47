// Package assets defines the durable asset-store boundary used to publish
// synthesized audio.
package assets

import "context"

// Publisher uploads binary assets and returns a durable retrieval URL.
type Publisher interface {
	Publish(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
