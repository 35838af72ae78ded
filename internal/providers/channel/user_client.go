package channel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// UserClient looks up platform profile data. Every method returns
// (nil, nil) when the gateway answers without the field.
type UserClient interface {
	Username(ctx context.Context, userID string) (*string, error)
	FollowStatus(ctx context.Context, userID string) (*string, error)
	FollowerCount(ctx context.Context, userID string) (*int64, error)
}

type HTTPUserClient struct {
	gw gateway
}

func NewHTTPUserClient(baseURL, apiKey string, httpClient *http.Client) *HTTPUserClient {
	return &HTTPUserClient{gw: newGateway(baseURL, apiKey, httpClient)}
}

func (c *HTTPUserClient) lookup(ctx context.Context, path, userID string) (map[string]any, error) {
	data, err := c.gw.post(ctx, path, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	inner, _ := data["data"].(map[string]any)
	return inner, nil
}

func (c *HTTPUserClient) Username(ctx context.Context, userID string) (*string, error) {
	d, err := c.lookup(ctx, "/instagram-user/username", userID)
	if err != nil {
		return nil, err
	}
	if s, ok := d["username"].(string); ok && strings.TrimSpace(s) != "" {
		s = strings.TrimSpace(s)
		return &s, nil
	}
	return nil, nil
}

// FollowStatus renders "is_follower=true,is_following=false", omitting
// whichever flag the gateway did not send.
func (c *HTTPUserClient) FollowStatus(ctx context.Context, userID string) (*string, error) {
	d, err := c.lookup(ctx, "/instagram-user/follow-status", userID)
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, key := range []string{"is_follower", "is_following"} {
		if v, ok := flexBool(d[key]); ok {
			parts = append(parts, fmt.Sprintf("%s=%t", key, v))
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	s := strings.Join(parts, ",")
	return &s, nil
}

func (c *HTTPUserClient) FollowerCount(ctx context.Context, userID string) (*int64, error) {
	d, err := c.lookup(ctx, "/instagram-user/follow-count", userID)
	if err != nil {
		return nil, err
	}
	switch v := d["follower_count"].(type) {
	case float64:
		n := int64(v)
		return &n, nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return &n, nil
		}
	}
	return nil, nil
}

func flexBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}
