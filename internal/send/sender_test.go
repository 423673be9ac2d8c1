package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chat-client/internal/httputil"
	"chat-client/internal/message"
)

type fakeEncryptor struct {
	err error
}

func (f fakeEncryptor) EncryptForRoom(participants []string, plaintext, senderID string) (string, map[string]string, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	keys := make(map[string]string, len(participants))
	for _, p := range participants {
		keys[p] = "sealed-for-" + p
	}
	return "aes256ctr:deadbeef", keys, nil
}

func TestBuildRequest_Plaintext(t *testing.T) {
	s := NewSender("http://localhost", "", "viewer", false, nil)

	req, err := s.BuildRequest("room1", "hello", nil, 0, nil, "tag1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Content != "hello" || req.ContentCiphertext != "" {
		t.Fatalf("plaintext request malformed: %+v", req)
	}
	if req.ClientTag != "tag1" {
		t.Fatalf("clientTag = %q, want tag1", req.ClientTag)
	}
}

func TestBuildRequest_StrictEncrypts(t *testing.T) {
	s := NewSender("http://localhost", "", "viewer", true, fakeEncryptor{})

	req, err := s.BuildRequest("room1", "hello", nil, 0, []string{"viewer", "bob"}, "tag1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Content != "" {
		t.Fatal("strict mode must not send plaintext")
	}
	if req.ContentCiphertext == "" || len(req.EncryptedKeys) != 2 {
		t.Fatalf("ciphertext or sealed keys missing: %+v", req)
	}
}

func TestBuildRequest_EncryptFailureAborts(t *testing.T) {
	s := NewSender("http://localhost", "", "viewer", true, fakeEncryptor{err: errors.New("no peer key")})

	_, err := s.BuildRequest("room1", "hello", nil, 0, []string{"bob"}, "tag1")
	if !errors.Is(err, httputil.ErrEncrypt) {
		t.Fatalf("err = %v, want ErrEncrypt", err)
	}
}

func TestBuildRequest_ValidationFailure(t *testing.T) {
	s := NewSender("http://localhost", "", "viewer", false, nil)

	_, err := s.BuildRequest("room1", "   ", nil, 0, nil, "tag1")
	if !errors.Is(err, httputil.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPost_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req message.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(message.Message{
			ID:         "srv-1",
			ChatRoomID: req.ChatRoomID,
			Content:    req.Content,
			ClientTag:  req.ClientTag,
		})
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "", "viewer", false, nil)
	req, _ := s.BuildRequest("room1", "hello", nil, 0, nil, "tag1")

	confirmed, err := s.Post(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.ID != "srv-1" || confirmed.ClientTag != "tag1" {
		t.Fatalf("confirmed = %+v", confirmed)
	}
}

func TestPost_StatusMapping(t *testing.T) {
	testCases := []struct {
		status int
		want   error
	}{
		{http.StatusPaymentRequired, httputil.ErrEntitlement},
		{http.StatusRequestEntityTooLarge, httputil.ErrPayloadTooLarge},
		{http.StatusUnsupportedMediaType, httputil.ErrUnsupportedMedia},
		{http.StatusTooManyRequests, httputil.ErrRateLimited},
		{http.StatusBadRequest, httputil.ErrValidation},
		{http.StatusUnprocessableEntity, httputil.ErrValidation},
		{http.StatusInternalServerError, httputil.ErrSendFailed},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			s := NewSender(srv.URL, "", "viewer", false, nil)
			req, _ := s.BuildRequest("room1", "hello", nil, 0, nil, "tag1")

			_, err := s.Post(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPost_TransportFailure(t *testing.T) {
	// 指向已關閉的端點
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewSender(srv.URL, "", "viewer", false, nil)
	req, _ := s.BuildRequest("room1", "hello", nil, 0, nil, "tag1")

	_, err := s.Post(context.Background(), req)
	if !errors.Is(err, httputil.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestEditAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/messages/m1/edit":
			var req struct {
				NewContent string `json:"newContent"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(message.Message{ID: "m1", Content: req.NewContent})

		case r.Method == http.MethodDelete && r.URL.Path == "/messages/m1":
			if got := r.URL.Query().Get("mode"); got != "all" {
				t.Errorf("mode = %q, want all", got)
			}
			w.WriteHeader(http.StatusOK)

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "", "viewer", false, nil)

	updated, err := s.Edit(context.Background(), "m1", "new text")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "new text" {
		t.Fatalf("content = %q", updated.Content)
	}

	if err := s.Delete(context.Background(), "m1", "all"); err != nil {
		t.Fatal(err)
	}
}
