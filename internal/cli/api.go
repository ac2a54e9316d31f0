package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/dkeye/meshcall/internal/domain"
)

// apiClient talks to the relay's REST endpoints.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (a *apiClient) do(ctx context.Context, method, path string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (a *apiClient) listRooms(ctx context.Context) ([]domain.RoomInfo, error) {
	var rooms []domain.RoomInfo
	if err := a.do(ctx, http.MethodGet, "/api/rooms", http.StatusOK, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (a *apiClient) members(ctx context.Context, room domain.RoomID) (domain.Roster, error) {
	var roster domain.Roster
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+string(room)+"/members", http.StatusOK, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func (a *apiClient) newRoom(ctx context.Context) (domain.RoomID, error) {
	var out struct {
		RoomID domain.RoomID `json:"roomId"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/rooms", http.StatusCreated, &out); err != nil {
		return "", err
	}
	if out.RoomID == "" {
		return "", fmt.Errorf("relay returned an empty room id")
	}
	return out.RoomID, nil
}
