package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type noneLoader struct{}

// NewNoneLoader is the factory for NONE data sources, which hand the request
// payload straight back as the result.
func NewNoneLoader(DataSource, Deps) (Loader, error) { return noneLoader{}, nil }

func (noneLoader) Load(_ context.Context, req Request) Result {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return Failed("NoneDataSource", fmt.Errorf("encode payload: %w", err))
	}
	return Succeeded(&Response{StatusCode: http.StatusOK, Body: string(body)})
}
