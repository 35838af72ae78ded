package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/dmcommerce/internal/models"
)

type recorded struct {
	path   string
	apiKey string
	body   map[string]any
}

func gatewayServer(t *testing.T, reply func(path string) (int, string)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, recorded{path: r.URL.Path, apiKey: r.Header.Get("api-key"), body: body})
		status, out := reply(r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(out))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSenderEndpoints(t *testing.T) {
	srv, calls := gatewayServer(t, func(string) (int, string) {
		return http.StatusOK, `{"success":true,"data":{"message_id":"m-1"}}`
	})
	s := NewHTTPSender(srv.URL+"/", "key", srv.Client())

	plans := []struct {
		plan models.OutboundPlan
		path string
	}{
		{models.TextPlan("hi"), "/send/text"},
		{models.OutboundPlan{Type: models.PlanButton, Text: "t", Buttons: []models.Button{{Type: models.ButtonWebURL, Title: "b", URL: "https://x"}}}, "/send/button-text"},
		{models.OutboundPlan{Type: models.PlanQuickReply, Text: "t", QuickReplies: []models.QuickReplyOption{{Title: "a", Payload: "a"}}}, "/send/quick-reply"},
		{models.OutboundPlan{Type: models.PlanGenericTemplate, Elements: []models.TemplateElement{{Title: "p"}}}, "/send/generic-template"},
		{models.OutboundPlan{Type: models.PlanPhoto, MediaURL: "https://img"}, "/send/photo"},
		{models.OutboundPlan{Type: models.PlanVideo, MediaURL: "https://vid"}, "/send/video"},
		{models.OutboundPlan{Type: models.PlanAudio, MediaURL: "https://aud"}, "/send/audio"},
	}
	for _, p := range plans {
		id, err := s.Send(context.Background(), "r-1", p.plan)
		require.NoError(t, err)
		assert.Equal(t, "m-1", id)
	}

	require.Len(t, *calls, len(plans))
	for i, c := range *calls {
		assert.Equal(t, plans[i].path, c.path)
		assert.Equal(t, "key", c.apiKey)
		assert.Equal(t, "key", c.body["api_token"])
		assert.Equal(t, "r-1", c.body["receiver_id"])
	}
	assert.Equal(t, "https://img", (*calls)[4].body["image_url"])
}

func TestSenderFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusBadGateway, `oops`},
		{"success false", http.StatusOK, `{"success":false}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := gatewayServer(t, func(string) (int, string) { return tc.status, tc.body })
			s := NewHTTPSender(srv.URL, "key", srv.Client())

			_, err := s.Send(context.Background(), "r", models.TextPlan("x"))
			var se *SendError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "/send/text", se.Path)
		})
	}
}

func TestSenderNotConfigured(t *testing.T) {
	_, err := NewHTTPSender("", "key", nil).Send(context.Background(), "r", models.TextPlan("x"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUserClient(t *testing.T) {
	srv, _ := gatewayServer(t, func(path string) (int, string) {
		switch path {
		case "/instagram-user/username":
			return http.StatusOK, `{"success":true,"data":{"username":" shopper "}}`
		case "/instagram-user/follow-status":
			return http.StatusOK, `{"success":true,"data":{"is_follower":1,"is_following":"no"}}`
		case "/instagram-user/follow-count":
			return http.StatusOK, `{"success":true,"data":{"follower_count":"1520"}}`
		}
		return http.StatusNotFound, ``
	})
	c := NewHTTPUserClient(srv.URL, "key", srv.Client())
	ctx := context.Background()

	name, err := c.Username(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, name)
	assert.Equal(t, "shopper", *name)

	status, err := c.FollowStatus(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "is_follower=true,is_following=false", *status)

	count, err := c.FollowerCount(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, count)
	assert.Equal(t, int64(1520), *count)
}
