package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

func testClient(srv *httptest.Server, role types.SenderRole) *Client {
	actorID := "cust1"
	if role == types.SenderRoleExpert {
		actorID = "exp1"
	}
	return NewClient(srv.URL, actorID, role, StaticToken("secret"), zerolog.Nop())
}

func TestClient_LookupRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if r.URL.Path != "/api/rooms" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("requestId") != "req1" || r.URL.Query().Get("expertId") != "exp1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(types.ChatRoom{RoomID: "room1", RequestID: "req1", CustomerID: "cust1", ExpertID: "exp1"})
	}))
	defer srv.Close()

	// The customer looks up by counterpart expert id.
	room, err := testClient(srv, types.SenderRoleCustomer).LookupRoom(context.Background(), "req1", "exp1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if room.RoomID != "room1" {
		t.Errorf("unexpected room %+v", room)
	}
}

func TestClient_LookupRoom_ExpertSide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The expert is the expert seat; counterpart is the customer.
		if r.URL.Query().Get("expertId") != "exp1" {
			t.Errorf("expert lookup should use own id, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(types.ChatRoom{RoomID: "room1"})
	}))
	defer srv.Close()

	if _, err := testClient(srv, types.SenderRoleExpert).LookupRoom(context.Background(), "req1", "cust1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestClient_LookupRoom_Miss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv, types.SenderRoleCustomer).LookupRoom(context.Background(), "req1", "exp1")
	if err != ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestClient_CreateRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/rooms" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["requestId"] != "req1" || body["customerId"] != "cust1" || body["expertId"] != "exp1" {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.ChatRoom{RoomID: "room9"})
	}))
	defer srv.Close()

	room, err := testClient(srv, types.SenderRoleCustomer).CreateRoom(context.Background(), "req1", "exp1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if room.RoomID != "room9" {
		t.Errorf("unexpected room %+v", room)
	}
}

func TestClient_FetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/room1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("before") != "40" || r.URL.Query().Get("limit") != "25" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []types.Message{
				{ID: 38, Body: "a", CreatedAt: time.Now().Add(-2 * time.Minute)},
				{ID: 39, Body: "b", CreatedAt: time.Now().Add(-time.Minute)},
			},
		})
	}))
	defer srv.Close()

	msgs, err := testClient(srv, types.SenderRoleCustomer).FetchMessages(context.Background(), "room1", 40, 25)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 38 {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestClient_AckRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/room1/read" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			MessageIDs []types.MessageID `json:"messageIds"`
			ReaderID   string            `json:"readerId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.MessageIDs) != 2 || body.ReaderID != "cust1" {
			t.Errorf("unexpected body %+v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := testClient(srv, types.SenderRoleCustomer).AckRead(context.Background(), "room1", []types.MessageID{1, 2})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestClient_UploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "plan.pdf" {
			t.Errorf("unexpected filename %s", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"filePath": "uploads/abc/plan.pdf"})
	}))
	defer srv.Close()

	path, err := testClient(srv, types.SenderRoleCustomer).UploadFile(context.Background(), "plan.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if path != "uploads/abc/plan.pdf" {
		t.Errorf("unexpected path %s", path)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv, types.SenderRoleCustomer).LookupRoom(context.Background(), "req1", "exp1")
	if err == nil || err == ErrRoomNotFound {
		t.Errorf("expected request failure, got %v", err)
	}
}
