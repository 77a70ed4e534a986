package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RoomMeta is the canonical room identity discovered during initialization.
// RoomID and OwnerUID may differ from the requested key (short ids resolve
// to real ids).
type RoomMeta struct {
	RoomID   int64
	OwnerUID int64
	Token    string
	Host     string
	Port     int
}

// MetaClient resolves a RoomKey into the canonical room metadata plus the
// chat endpoint credentials. It is the collaborator boundary to the
// platform's HTTP API.
type MetaClient interface {
	ResolveRoom(ctx context.Context, key RoomKey) (*RoomMeta, error)
}

const (
	roomInitURL  = "https://api.live.bilibili.com/room/v1/Room/room_init"
	danmuInfoURL = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"
)

// HTTPMetaClient is the default MetaClient for numeric room ids. Identity
// code keys require the platform's signed open interface, which is supplied
// by the embedding application, not this package.
type HTTPMetaClient struct {
	client *http.Client
}

func NewHTTPMetaClient() *HTTPMetaClient {
	return &HTTPMetaClient{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPMetaClient) ResolveRoom(ctx context.Context, key RoomKey) (*RoomMeta, error) {
	id, ok := key.RoomID()
	if !ok {
		return nil, fmt.Errorf("identity code keys need an open-interface meta client")
	}

	roomID, ownerUID, err := c.fetchRoomInit(ctx, id)
	if err != nil {
		return nil, err
	}
	token, host, port, err := c.fetchDanmuInfo(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &RoomMeta{
		RoomID:   roomID,
		OwnerUID: ownerUID,
		Token:    token,
		Host:     host,
		Port:     port,
	}, nil
}

func (c *HTTPMetaClient) fetchRoomInit(ctx context.Context, id int64) (int64, int64, error) {
	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			RoomID int64 `json:"room_id"`
			UID    int64 `json:"uid"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s?id=%d", roomInitURL, id)
	if err := c.getJSON(ctx, url, &result); err != nil {
		return 0, 0, err
	}
	if result.Code != 0 {
		return 0, 0, fmt.Errorf("room init failed: code=%d message=%s", result.Code, result.Message)
	}
	return result.Data.RoomID, result.Data.UID, nil
}

func (c *HTTPMetaClient) fetchDanmuInfo(ctx context.Context, roomID int64) (string, string, int, error) {
	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Token    string `json:"token"`
			HostList []struct {
				Host    string `json:"host"`
				WssPort int    `json:"wss_port"`
			} `json:"host_list"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s?id=%d&type=0", danmuInfoURL, roomID)
	if err := c.getJSON(ctx, url, &result); err != nil {
		return "", "", 0, err
	}
	if result.Code != 0 {
		return "", "", 0, fmt.Errorf("danmu info failed: code=%d message=%s", result.Code, result.Message)
	}
	if len(result.Data.HostList) == 0 {
		return "", "", 0, fmt.Errorf("danmu info returned no hosts")
	}
	first := result.Data.HostList[0]
	return result.Data.Token, first.Host, first.WssPort, nil
}

func (c *HTTPMetaClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata request returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse metadata response: %w", err)
	}
	return nil
}
