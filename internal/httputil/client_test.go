package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_GetJSON(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `{"from":"world","to":"camera"}`)
	c := NewClient("http://frames.local/", mock)

	var out struct{ From, To string }
	err := c.GetJSON(context.Background(), "/api/transform", url.Values{"q": {"world.camera"}}, &out)
	require.NoError(t, err)
	require.Equal(t, "world", out.From)
	require.Equal(t, "camera", out.To)

	require.Equal(t, 1, mock.RequestCount())
	req := mock.Requests[0]
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, "http://frames.local/api/transform?q=world.camera", req.URL.String())
}

func TestClient_StatusError(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().
		AddResponse(http.StatusNotFound, `{"error":"unknown frame \"moon\""}`).
		AddResponse(http.StatusBadGateway, "upstream down\n")
	c := NewClient("http://frames.local", mock)

	err := c.GetJSON(context.Background(), "/api/transform", nil, &struct{}{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)
	require.Equal(t, `unknown frame "moon"`, se.Message)

	_, err = c.GetRaw(context.Background(), "/api/graph/chart", nil)
	require.ErrorAs(t, err, &se)
	require.Equal(t, "http 502: upstream down", se.Error())

	require.Equal(t, "http 503 Service Unavailable", (&StatusError{Code: 503}).Error())
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	c := NewClient("http://frames.local", NewMockHTTPClient().AddErrorResponse(boom))
	require.ErrorIs(t, c.Delete(context.Background(), "/api/edges", nil), boom)
}

func TestClient_PostJSON(t *testing.T) {
	t.Parallel()

	type seen struct{ body, contentType string }
	requests := make(chan seen, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		requests <- seen{string(b), r.Header.Get("Content-Type")}
		WriteJSONOK(w, map[string]int{"applied": 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	var out map[string]int
	err := c.PostJSON(context.Background(), "/api/edges", url.Values{"source": {"cli"}}, map[string]string{"from": "a", "to": "b"}, &out)
	require.NoError(t, err)
	require.Equal(t, 1, out["applied"])
	got := <-requests
	require.JSONEq(t, `{"from":"a","to":"b"}`, got.body)
	require.Equal(t, "application/json", got.contentType)

	require.NoError(t, c.PostJSON(context.Background(), "/api/edges", nil, []int{}, nil))
}
