package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/frozenbots60-source/kust-chat/config"
	"github.com/frozenbots60-source/kust-chat/internal/blob"
	"github.com/frozenbots60-source/kust-chat/internal/bus"
	"github.com/frozenbots60-source/kust-chat/internal/history"
	"github.com/frozenbots60-source/kust-chat/internal/hub"
	"github.com/frozenbots60-source/kust-chat/internal/middleware"
	"github.com/frozenbots60-source/kust-chat/internal/models"
	"github.com/frozenbots60-source/kust-chat/internal/voice"
)

const testJWTSecret = "test-secret"

func newAPIServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs, err := blob.NewStore(t.TempDir(), "blob-secret", time.Hour)
	require.NoError(t, err)

	srv := &Server{
		Config:    &config.Config{HistoryReplay: 50, JWTSecret: testJWTSecret},
		Registry:  hub.NewRegistry(),
		Names:     hub.NewLocalNames(),
		Bus:       bus.NewMemoryBus(),
		History:   history.NewMemoryLog(),
		Voice:     voice.NewCoordinator(),
		Directory: NewMemoryDirectory(),
		Blobs:     blobs,
	}

	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/login", Login(testJWTSecret))
	api.GET("/rooms", srv.ListRooms)
	api.POST("/rooms", middleware.JWTAuth(testJWTSecret), srv.CreateRoom)
	api.GET("/rooms/:room", srv.GetRoom)
	api.GET("/rooms/:room/history", srv.RoomHistory)
	api.POST("/upload", srv.Upload)
	router.GET("/files/:id", srv.ServeFile)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return srv, ts
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Username: "creator"})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func createRoom(t *testing.T, ts *httptest.Server, token string, req models.CreateRoomRequest) *http.Response {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequest(http.MethodPost, ts.URL+"/api/rooms", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateAndListRooms(t *testing.T) {
	_, ts := newAPIServer(t)
	token := login(t, ts)

	resp := createRoom(t, ts, token, models.CreateRoomRequest{Name: "general"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same name again conflicts.
	resp = createRoom(t, ts, token, models.CreateRoomRequest{Name: "general"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	listResp, err := http.Get(ts.URL + "/api/rooms")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var rooms []*models.RoomMetadata
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	require.Equal(t, "general", rooms[0].Name)
	require.Equal(t, "creator", rooms[0].CreatorID)
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	_, ts := newAPIServer(t)
	resp := createRoom(t, ts, "", models.CreateRoomRequest{Name: "general"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPrivateRoomNeverLeaksHash(t *testing.T) {
	_, ts := newAPIServer(t)
	token := login(t, ts)

	resp := createRoom(t, ts, token, models.CreateRoomRequest{Name: "vault", Private: true, Password: "sesame"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/rooms/vault")
	require.NoError(t, err)
	defer getResp.Body.Close()

	raw, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "passwordHash")

	var meta models.RoomMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.True(t, meta.Private)
}

func TestPrivateRoomRequiresPassword(t *testing.T) {
	_, ts := newAPIServer(t)
	token := login(t, ts)

	resp := createRoom(t, ts, token, models.CreateRoomRequest{Name: "vault", Private: true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoomHistoryPaging(t *testing.T) {
	srv, ts := newAPIServer(t)
	token := login(t, ts)
	createRoom(t, ts, token, models.CreateRoomRequest{Name: "general"})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, srv.History.Append(ctx, "general", &models.ChatMessage{
			ID: fmt.Sprintf("m%d", i), Text: fmt.Sprintf("msg %d", i),
		}))
	}

	resp, err := http.Get(ts.URL + "/api/rooms/general/history?limit=4")
	require.NoError(t, err)
	defer resp.Body.Close()

	var msgs []*models.ChatMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 4)
	require.Equal(t, "m6", msgs[0].ID)
	require.Equal(t, "m9", msgs[3].ID)

	missing, err := http.Get(ts.URL + "/api/rooms/nope/history")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestUploadAndDownloadRoundTrip(t *testing.T) {
	_, ts := newAPIServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "note.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("attachment bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(ts.URL+"/api/upload", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.URL)

	dlResp, err := http.Get(ts.URL + out.URL)
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)

	data, err := io.ReadAll(dlResp.Body)
	require.NoError(t, err)
	require.Equal(t, "attachment bytes", string(data))
}
