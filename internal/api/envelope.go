package api

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfsync/shelfsync/internal/http/response"
)

// EnvelopeTransformer wraps every huma response body in response.Envelope.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	switch body := v.(type) {
	case *APIError:
		return response.Envelope{
			Version: response.Version,
			Code:    body.Code,
			Error:   body.Message,
			Details: body.Details,
		}, nil
	case response.Envelope, *response.Envelope:
		return v, nil
	}

	// Schema documents and other non-2xx bodies pass through untouched.
	if !strings.HasPrefix(status, "2") {
		return v, nil
	}
	return response.Wrap(v), nil
}
